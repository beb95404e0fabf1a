package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string
	LocalRoot  string

	LogLevel  string
	LogFormat string

	DriveCredentialsFile string
	DriveFolderID        string
	DrivePageSize        int

	GeminiAPIKey         string
	GeminiModel          string
	GeminiBaseURL        string
	AnalyzerTimeoutMs    int
	AnalyzerRateLimitRPS float64

	CandidateLimit          int
	SampleRows              int
	MatchOverrideMostRecent []string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailProvider string
	MailLabel    string
	MailFetchMax int

	ListenerSource      string
	ListenerFolders     map[string]string
	ListenerIntervalSec int
	ListenerConcurrency int
	MetricsAddr         string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		LocalRoot:  getEnv("LOCAL_ROOT", cwd),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		DriveCredentialsFile: getEnv("DRIVE_CREDENTIALS_FILE", filepath.Join(cwd, "service-account.json")),
		DriveFolderID:        getEnv("DRIVE_FOLDER_ID", ""),
		DrivePageSize:        getEnvInt("DRIVE_PAGE_SIZE", 50),

		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:        getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		AnalyzerTimeoutMs:    getEnvInt("ANALYZER_TIMEOUT_MS", 60000),
		AnalyzerRateLimitRPS: getEnvFloat("ANALYZER_RATE_LIMIT_RPS", 1),

		CandidateLimit:          getEnvInt("FORMAT_CANDIDATE_LIMIT", 5),
		SampleRows:              getEnvInt("SAMPLE_ROWS", 5),
		MatchOverrideMostRecent: getEnvList("MATCH_OVERRIDE_MOST_RECENT"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailProvider: getEnv("MAIL_PROVIDER", "imap"),
		MailLabel:    getEnv("MAIL_LABEL", "INBOX"),
		MailFetchMax: getEnvInt("MAIL_FETCH_MAX", 50),

		ListenerSource:      getEnv("LISTENER_SOURCE", "drive"),
		ListenerFolders:     getEnvPairs("LISTENER_FOLDERS"),
		ListenerIntervalSec: getEnvInt("LISTENER_INTERVAL_SEC", 60),
		ListenerConcurrency: getEnvInt("LISTENER_CONCURRENCY", 4),
		MetricsAddr:         getEnv("METRICS_ADDR", ""),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// OverridesMostRecent reports whether the supplier is configured to fall
// back to its newest ACTIVE template when no fingerprint matches.
func (c Config) OverridesMostRecent(supplierID string) bool {
	for _, id := range c.MatchOverrideMostRecent {
		if id == supplierID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func getEnvList(key string) []string {
	value := getEnv(key, "")
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvPairs parses "a=1,b=2" into a map. Malformed entries are skipped.
func getEnvPairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range getEnvList(key) {
		k, v, ok := strings.Cut(entry, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
