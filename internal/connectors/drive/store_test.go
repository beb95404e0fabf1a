package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"pricelist/internal/config"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStore(config.Config{DrivePageSize: 2}, zerolog.Nop(),
		WithClientOptions(option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/")))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestListPagesNewestFirst(t *testing.T) {
	var calls int32
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "'fold\\'er' in parents and trashed = false and mimeType = 'text/csv'", q.Get("q"))
		assert.Equal(t, "modifiedTime desc", q.Get("orderBy"))
		assert.Equal(t, "2", q.Get("pageSize"))

		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Empty(t, q.Get("pageToken"))
			writeJSON(w, map[string]any{
				"nextPageToken": "p2",
				"files": []any{
					map[string]any{"id": "1", "name": "b.csv", "mimeType": "text/csv", "size": "10", "modifiedTime": "2024-03-02T00:00:00Z"},
					map[string]any{"id": "2", "name": "a.csv", "mimeType": "text/csv", "size": "20", "modifiedTime": "2024-03-01T00:00:00Z"},
				},
			})
			return
		}
		assert.Equal(t, "p2", q.Get("pageToken"))
		writeJSON(w, map[string]any{"files": []any{
			map[string]any{"id": "3", "name": "old.csv", "mimeType": "text/csv", "size": "5"},
		}})
	})

	files, err := store.List(context.Background(), "fold'er", "text/csv")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "1", files[0].ID)
	assert.Equal(t, int64(20), files[1].Size)
	assert.Equal(t, "old.csv", files[2].Name)
}

func TestGetContentDownloadsAndExports(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files/plain" && r.URL.Query().Get("alt") == "media":
			_, _ = w.Write([]byte("SKU,Price\n"))
		case r.URL.Path == "/files/plain":
			writeJSON(w, map[string]any{"id": "plain", "name": "l.csv", "mimeType": "text/csv"})
		case r.URL.Path == "/files/sheet":
			writeJSON(w, map[string]any{"id": "sheet", "name": "Lista", "mimeType": googleSheetType})
		case r.URL.Path == "/files/sheet/export":
			assert.Equal(t, xlsxType, r.URL.Query().Get("mimeType"))
			_, _ = w.Write([]byte("PK-xlsx"))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	blob, err := store.GetContent(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "SKU,Price\n", string(blob))

	blob, err = store.GetContent(ctx, "sheet")
	require.NoError(t, err)
	assert.Equal(t, "PK-xlsx", string(blob))

	meta, err := store.GetMetadata(ctx, "sheet")
	require.NoError(t, err)
	assert.Equal(t, xlsxType, meta.MediaType)

	_, err = store.GetMetadata(ctx, "missing")
	assert.Error(t, err)
}

func TestConnectOnce(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {})

	first, err := store.Connect(context.Background())
	require.NoError(t, err)
	second, err := store.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestConnectWithoutCredentials(t *testing.T) {
	store := NewStore(config.Config{DriveCredentialsFile: "/nonexistent/sa.json"}, zerolog.Nop())
	_, err := store.List(context.Background(), "folder", "")
	assert.ErrorContains(t, err, "read drive credentials")
}
