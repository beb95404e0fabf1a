// Package analyzer reads table structure out of documents that cannot be
// decoded as spreadsheets: scans and photos through a vision model, PDFs
// through their text layer.
package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pricelist/internal"
	"pricelist/internal/metrics"
	"pricelist/internal/pipeline"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash"
	DefaultTimeout = 60 * time.Second
)

const legibilityPrompt = `You are a document quality auditor. Decide whether the attached document is technically legible for data extraction.
Check blur, lighting (strong shadows or glare) and resolution (small letters distinguishable).
Answer strictly with this JSON:
{"status": "ACCEPT" | "REJECT", "reason": "short explanation when rejecting, null when accepting"}`

const discoveryPrompt = `You are a data architect. Analyze the visual structure of the attached price list.
Identify ALL visible columns of the main table, do not skip any.
Extract a REAL sample of the first 3 to 5 data rows.
Answer strictly with this JSON:
{
  "headers_detected": ["every header exactly as printed"],
  "data_sample": [{"<header>": "<value in row 1>"}, {"<header>": "<value in row 2>"}],
  "suggested_mapping": {"sku": "header of the SKU/code column or null", "descripcion": "header of the description column", "precio": "header of the unit price column or null"},
  "confidence_notes": "observations, e.g. currency looks like USD"
}`

// Vision calls a Gemini generateContent endpoint with the document inlined.
type Vision struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type Option func(*Vision)

func WithHTTPClient(client *http.Client) Option {
	return func(v *Vision) {
		v.httpClient = client
	}
}

func WithBaseURL(baseURL string) Option {
	return func(v *Vision) {
		if baseURL != "" {
			v.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithModel(model string) Option {
	return func(v *Vision) {
		if model != "" {
			v.model = model
		}
	}
}

// WithRateLimit sets requests per second. Non-positive values disable it.
func WithRateLimit(rps float64) Option {
	return func(v *Vision) {
		if rps <= 0 {
			v.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		v.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithTimeout is applied after every other option, on a copy of the
// configured client.
func WithTimeout(timeout time.Duration) Option {
	return func(v *Vision) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

func NewVision(apiKey string, logger zerolog.Logger, opts ...Option) *Vision {
	v := &Vision{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if v.timeout > 0 {
		client := *v.httpClient
		client.Timeout = v.timeout
		v.httpClient = &client
	}
	return v
}

func (v *Vision) CheckLegibility(ctx context.Context, content []byte, mediaType string) (internal.Legibility, error) {
	text, err := v.generate(ctx, "legibility", legibilityPrompt, content, mediaType)
	if err != nil {
		return internal.Legibility{}, err
	}
	if err := validateJSON(legibilitySchema, []byte(text)); err != nil {
		return internal.Legibility{}, fmt.Errorf("%w: legibility output: %v", internal.ErrAnalysis, err)
	}

	var out struct {
		Status string  `json:"status"`
		Reason *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return internal.Legibility{}, fmt.Errorf("%w: legibility output: %v", internal.ErrAnalysis, err)
	}

	verdict := internal.Legibility{Accepted: out.Status == "ACCEPT"}
	if out.Reason != nil {
		verdict.Reason = strings.TrimSpace(*out.Reason)
	}
	if !verdict.Accepted && verdict.Reason == "" {
		verdict.Reason = "document rejected as illegible"
	}
	return verdict, nil
}

func (v *Vision) DiscoverStructure(ctx context.Context, content []byte, mediaType string) (internal.Discovery, error) {
	text, err := v.generate(ctx, "discovery", discoveryPrompt, content, mediaType)
	if err != nil {
		return internal.Discovery{}, err
	}
	if err := validateJSON(discoverySchema, []byte(text)); err != nil {
		return internal.Discovery{}, fmt.Errorf("%w: discovery output: %v", internal.ErrAnalysis, err)
	}

	var out struct {
		Headers []*string          `json:"headers_detected"`
		Sample  []map[string]any   `json:"data_sample"`
		Mapping map[string]*string `json:"suggested_mapping"`
		Notes   *string            `json:"confidence_notes"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return internal.Discovery{}, fmt.Errorf("%w: discovery output: %v", internal.ErrAnalysis, err)
	}

	raw := make([]string, len(out.Headers))
	for i, h := range out.Headers {
		if h != nil {
			raw[i] = *h
		}
	}

	d := internal.Discovery{
		Headers:          pipeline.MaterializeHeaders(raw),
		SuggestedMapping: orderedMapping(out.Mapping),
	}
	for _, obj := range out.Sample {
		d.Rows = append(d.Rows, orderedRow(d.Headers, obj))
	}
	if out.Notes != nil {
		d.Notes = *out.Notes
	}
	return d, nil
}

func (v *Vision) generate(ctx context.Context, operation, prompt string, content []byte, mediaType string) (string, error) {
	if !supportsMedia(mediaType) {
		return "", fmt.Errorf("%w: %s", internal.ErrUnsupportedMedia, mediaType)
	}
	if strings.TrimSpace(v.apiKey) == "" {
		return "", fmt.Errorf("%w: missing GEMINI_API_KEY", internal.ErrAnalysis)
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", internal.ErrAnalysis, err)
	}

	start := time.Now()
	text, err := v.call(ctx, prompt, content, mediaType)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.AnalyzerDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	v.logger.Debug().
		Str("operation", operation).
		Str("model", v.model).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("analyzer.vision.call")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", internal.ErrAnalysis, operation, err)
	}
	return text, nil
}

type generateRequest struct {
	Contents         []genContent     `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type genContent struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
}

func (v *Vision) call(ctx context.Context, prompt string, doc []byte, mediaType string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []genContent{{Parts: []part{
			{Text: prompt},
			{InlineData: &inlineData{MimeType: mediaType, Data: base64.StdEncoding.EncodeToString(doc)}},
		}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", v.baseURL, url.PathEscape(v.model), url.QueryEscape(v.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(string(blob), 300))
	}

	var out generateResponse
	if err := json.Unmarshal(blob, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	var sb strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := stripFences(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

func supportsMedia(mediaType string) bool {
	mt := strings.ToLower(mediaType)
	return strings.HasPrefix(mt, "image/") || mt == "application/pdf"
}

// orderedMapping keeps the well-known fields first, the rest by name.
// Null values are dropped.
func orderedMapping(in map[string]*string) internal.ColumnMapping {
	var m internal.ColumnMapping
	known := []string{"sku", "descripcion", "precio"}
	for _, field := range known {
		if h, ok := in[field]; ok && h != nil && strings.TrimSpace(*h) != "" {
			m.Set(field, strings.TrimSpace(*h))
		}
	}
	rest := make([]string, 0, len(in))
	for field := range in {
		if _, ok := m.Header(field); !ok {
			rest = append(rest, field)
		}
	}
	sort.Strings(rest)
	for _, field := range rest {
		if h := in[field]; h != nil && strings.TrimSpace(*h) != "" {
			m.Set(field, strings.TrimSpace(*h))
		}
	}
	return m
}

// orderedRow lays a sample object out in header order. Keys the headers
// do not name follow, sorted.
func orderedRow(headers []string, obj map[string]any) internal.Row {
	row := make(internal.Row, 0, len(obj))
	used := map[string]bool{}
	for _, h := range headers {
		row = append(row, internal.Cell{Header: h, Value: cellText(obj[h])})
		used[h] = true
	}
	var extra []string
	for k := range obj {
		if !used[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		row = append(row, internal.Cell{Header: k, Value: cellText(obj[k])})
	}
	return row
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
