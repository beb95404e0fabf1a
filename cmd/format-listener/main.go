package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricelist/internal/app"
	"pricelist/internal/config"
	"pricelist/internal/connectors"
	"pricelist/internal/listener"
	"pricelist/internal/metrics"
	"pricelist/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := app.NewFileStore(cfg, cfg.ListenerSource, db, logger)
	must(err)
	svc := listener.NewService(store, app.NewExtractionService(cfg, store, db, logger), db, cfg, logger)
	if cfg.ListenerSource == "mailbox" {
		conn, err := app.NewMailConnector(ctx, cfg, cfg.MailProvider)
		must(err)
		svc.WithMailFetch(connectors.NewFetchService(db, cfg.RawMailDir, conn, logger))
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics.serve.error")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics.serve.start")
	}

	logger.Info().Str("source", cfg.ListenerSource).Int("folders", len(cfg.ListenerFolders)).Msg("listener.start")
	must(svc.Run(ctx))
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
