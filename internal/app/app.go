// Package app wires configuration into the concrete stores, analyzers and
// services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricelist/internal/analyzer"
	"pricelist/internal/config"
	"pricelist/internal/connectors"
	driveconnector "pricelist/internal/connectors/drive"
	gmailconnector "pricelist/internal/connectors/gmail"
	imapconnector "pricelist/internal/connectors/imap"
	"pricelist/internal/connectors/localfs"
	"pricelist/internal/connectors/mailbox"
	"pricelist/internal/formats"
	"pricelist/internal/pipeline"
	"pricelist/internal/storage"
)

func NewFileStore(cfg config.Config, source string, db *storage.DB, logger zerolog.Logger) (connectors.FileStore, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "drive":
		return driveconnector.NewStore(cfg, logger), nil
	case "local":
		return localfs.NewStore(cfg.LocalRoot), nil
	case "mailbox":
		return mailbox.NewStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported file source: %s", source)
	}
}

func NewMailConnector(ctx context.Context, cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}

// NewAnalyzer reads PDFs through their text layer first and sends
// everything else to the vision model.
func NewAnalyzer(cfg config.Config, logger zerolog.Logger) analyzer.Chain {
	vision := analyzer.NewVision(cfg.GeminiAPIKey, logger,
		analyzer.WithBaseURL(cfg.GeminiBaseURL),
		analyzer.WithModel(cfg.GeminiModel),
		analyzer.WithTimeout(time.Duration(cfg.AnalyzerTimeoutMs)*time.Millisecond),
		analyzer.WithRateLimit(cfg.AnalyzerRateLimitRPS),
	)
	return analyzer.Chain{analyzer.NewTextLayer(), vision}
}

func NewExtractionService(cfg config.Config, files connectors.FileStore, db *storage.DB, logger zerolog.Logger) *pipeline.Service {
	mem := formats.NewMemory(db, logger)
	return pipeline.NewService(files, NewAnalyzer(cfg, logger), mem, cfg, logger)
}
