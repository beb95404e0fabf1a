package connectors

import (
	"context"

	"github.com/rs/zerolog"

	"pricelist/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
	logger    zerolog.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, logger zerolog.Logger) *FetchService {
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		logger:    logger,
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	stored := 0
	for _, msg := range messages {
		row, err := s.store.Store(ctx, msg)
		if err != nil {
			return FetchResult{Fetched: len(messages), Stored: stored}, err
		}
		s.logger.Debug().Str("provider", msg.Provider).Str("message_id", msg.MessageID).Str("hash", row.Hash).Msg("mail.stored")
		stored++
	}

	s.logger.Info().Str("label", label).Int("fetched", len(messages)).Int("stored", stored).Msg("mail.fetch.done")
	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}
