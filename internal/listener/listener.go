package listener

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricelist/internal"
	"pricelist/internal/config"
	"pricelist/internal/connectors"
	"pricelist/internal/metrics"
	"pricelist/internal/pipeline"
)

const lastPollKey = "listener.last_poll"

type Processor interface {
	ProcessFile(ctx context.Context, fileID, supplierID string, opts pipeline.Options) (*internal.ExtractionResult, error)
}

type UploadStore interface {
	HasUpload(ctx context.Context, supplierID, fileID string) (bool, error)
	RecordUpload(ctx context.Context, u *internal.Upload, items []internal.PriceItem) error
	SetMetadata(ctx context.Context, key, value string) error
}

type MailFetcher interface {
	FetchAndStore(ctx context.Context, label string, max int) (connectors.FetchResult, error)
}

// Service polls the configured folders and processes every file it has not
// recorded an upload for yet.
type Service struct {
	files     connectors.FileStore
	processor Processor
	uploads   UploadStore
	cfg       config.Config
	logger    zerolog.Logger

	mail MailFetcher
}

type CycleResult struct {
	Listed    int
	Skipped   int
	Processed int
	Failed    int
}

func NewService(files connectors.FileStore, processor Processor, uploads UploadStore, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{files: files, processor: processor, uploads: uploads, cfg: cfg, logger: logger}
}

// WithMailFetch makes every cycle fetch new e-mails before listing files,
// for mailbox-backed file stores.
func (s *Service) WithMailFetch(f MailFetcher) *Service {
	s.mail = f
	return s
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	for {
		res, err := s.RunCycle(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("listener.cycle.error")
		} else {
			s.logger.Info().
				Int("listed", res.Listed).
				Int("skipped", res.Skipped).
				Int("processed", res.Processed).
				Int("failed", res.Failed).
				Msg("listener.cycle.done")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// RunCycle processes one pass over every configured folder. Extraction
// failures are recorded as upload rows; only store and listing failures are
// returned.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	if s.mail != nil {
		if _, err := s.mail.FetchAndStore(ctx, s.cfg.MailLabel, s.cfg.MailFetchMax); err != nil {
			s.logger.Warn().Err(err).Msg("listener.mail_fetch.error")
		}
	}

	folders := make([]string, 0, len(s.cfg.ListenerFolders))
	for folder := range s.cfg.ListenerFolders {
		folders = append(folders, folder)
	}
	sort.Strings(folders)

	var (
		mu  sync.Mutex
		res CycleResult
	)
	limit := s.cfg.ListenerConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, folder := range folders {
		supplierID := s.cfg.ListenerFolders[folder]
		files, err := s.files.List(gctx, folder, "")
		if err != nil {
			s.logger.Warn().Err(err).Str("folder", folder).Msg("listener.list.error")
			continue
		}

		for _, f := range files {
			mu.Lock()
			res.Listed++
			mu.Unlock()

			seen, err := s.uploads.HasUpload(gctx, supplierID, f.ID)
			if err != nil {
				if werr := g.Wait(); werr != nil {
					return res, werr
				}
				return res, err
			}
			if seen {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				status, err := s.processOne(gctx, f, supplierID)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if status == internal.UploadMapped || status == internal.UploadDiscovery {
					res.Processed++
				} else {
					res.Failed++
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := s.uploads.SetMetadata(ctx, lastPollKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) processOne(ctx context.Context, f internal.FileMetadata, supplierID string) (internal.UploadStatus, error) {
	upload := internal.Upload{
		SupplierID: supplierID,
		FileID:     f.ID,
		FileName:   f.Name,
	}

	result, err := s.processor.ProcessFile(ctx, f.ID, supplierID, pipeline.Options{})
	if err != nil {
		upload.Status = internal.UploadStatusFor(err)
		reason := err.Error()
		upload.Reason = &reason
	} else {
		upload.Status = internal.UploadStatus(result.Mode)
		if result.Diagnostics.ComputedHash != "" {
			hash := result.Diagnostics.ComputedHash
			upload.HeaderHash = &hash
		}
		if result.MatchedTemplateID != "" {
			id := result.MatchedTemplateID
			upload.TemplateID = &id
		}
	}

	var items []internal.PriceItem
	if result != nil && result.Mode == internal.ModeMapped {
		items = pipeline.ApplyMapping(result.FullRows, result.Mapping)
	}
	if err := s.uploads.RecordUpload(ctx, &upload, items); err != nil {
		return upload.Status, err
	}
	metrics.ListenerFilesProcessed.WithLabelValues(supplierID, string(upload.Status)).Inc()
	if len(items) > 0 {
		s.logger.Info().Str("upload_id", upload.ID).Str("file", f.Name).Int("items", len(items)).Msg("listener.items.stored")
	}

	s.logger.Info().
		Str("supplier_id", supplierID).
		Str("file_id", f.ID).
		Str("status", string(upload.Status)).
		Msg("listener.file.recorded")
	return upload.Status, nil
}
