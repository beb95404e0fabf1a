package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelist/internal"
	"pricelist/internal/storage"
)

type fakeMail struct {
	messages []internal.FetchedMailMessage
	err      error
	label    string
	max      int
}

func (f *fakeMail) FetchInbox(_ context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	f.label, f.max = label, max
	return f.messages, f.err
}

func TestFetchAndStore(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	rawDir := filepath.Join(t.TempDir(), "raw")

	raw := []byte("From: a@b.c\r\nSubject: lista\r\n\r\nhola\r\n")
	conn := &fakeMail{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<1@b.c>", Subject: "lista", From: "a@b.c", ReceivedAt: "2024-03-01T00:00:00Z", Raw: raw},
	}}
	svc := NewFetchService(db, rawDir, conn, zerolog.Nop())

	res, err := svc.FetchAndStore(ctx, "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 1, Stored: 1}, res)
	assert.Equal(t, "INBOX", conn.label)
	assert.Equal(t, 10, conn.max)

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	stored, err := os.ReadFile(filepath.Join(rawDir, hash+".eml"))
	require.NoError(t, err)
	assert.Equal(t, raw, stored)

	row, err := db.GetEmailByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "fetched", row.Status)

	// Refetching the same message keeps one row.
	_, err = svc.FetchAndStore(ctx, "INBOX", 10)
	require.NoError(t, err)
	all, err := db.ListEmails(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFetchAndStoreConnectorError(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewFetchService(db, t.TempDir(), &fakeMail{err: errors.New("auth failed")}, zerolog.Nop())
	_, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	assert.EqualError(t, err, "auth failed")
}
