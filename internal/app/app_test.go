package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelist/internal/config"
	"pricelist/internal/connectors/localfs"
	"pricelist/internal/connectors/mailbox"
	"pricelist/internal/storage"
)

func TestNewFileStore(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cfg := config.Config{LocalRoot: t.TempDir()}

	store, err := NewFileStore(cfg, "Local", db, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &localfs.Store{}, store)

	store, err = NewFileStore(cfg, "mailbox", db, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &mailbox.Store{}, store)

	_, err = NewFileStore(cfg, "ftp", db, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewMailConnectorRejectsUnknownProvider(t *testing.T) {
	_, err := NewMailConnector(context.Background(), config.Config{}, "pop3")
	assert.ErrorContains(t, err, "pop3")
}

func TestNewAnalyzerOrder(t *testing.T) {
	chain := NewAnalyzer(config.Config{}, zerolog.Nop())
	require.Len(t, chain, 2)
}
