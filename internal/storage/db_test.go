package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelist/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	db.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return db
}

func template(supplier, hash string) *internal.FormatTemplate {
	return &internal.FormatTemplate{
		SupplierID: supplier,
		Name:       "fmt " + hash,
		State:      internal.TemplateActive,
		Fingerprint: internal.Fingerprint{
			HeaderHash:      hash,
			ExpectedHeaders: []string{"SKU", "Price"},
			FileKind:        internal.FileKindXLSX,
			ToleranceMode:   internal.ToleranceStrict,
		},
		Mapping: internal.ColumnMapping{Fields: []internal.FieldMapping{
			{Field: "sku", Header: "SKU"},
			{Field: "price", Header: "Price"},
		}},
		SourceFileID: "file-1",
	}
}

func TestTemplatesRoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := template("sup", "h1")
	second := template("sup", "h2")
	other := template("other", "h1")
	require.NoError(t, db.InsertTemplate(ctx, first))
	require.NoError(t, db.InsertTemplate(ctx, second))
	require.NoError(t, db.InsertTemplate(ctx, other))
	require.NotEmpty(t, first.ID)

	oldest, err := db.ListTemplates(ctx, internal.TemplateQuery{SupplierID: "sup", State: internal.TemplateActive})
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, first.ID, oldest[0].ID)
	assert.Equal(t, first.Mapping, oldest[0].Mapping)
	assert.Equal(t, first.Fingerprint, oldest[0].Fingerprint)
	assert.Equal(t, "file-1", oldest[0].SourceFileID)

	newest, err := db.ListTemplates(ctx, internal.TemplateQuery{SupplierID: "sup", NewestFirst: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, second.ID, newest[0].ID)

	byHash, err := db.ListTemplates(ctx, internal.TemplateQuery{HeaderHash: "h1"})
	require.NoError(t, err)
	assert.Len(t, byHash, 2)
}

func TestUpdateTemplate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tpl := template("sup", "h1")
	require.NoError(t, db.InsertTemplate(ctx, tpl))
	created := tpl.UpdatedAt

	tpl.State = internal.TemplateRetired
	tpl.Mapping.Set("unit", "Unidad")
	require.NoError(t, db.UpdateTemplate(ctx, tpl))
	assert.True(t, tpl.UpdatedAt.After(created))

	got, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, internal.TemplateRetired, got.State)
	h, ok := got.Mapping.Header("unit")
	assert.True(t, ok)
	assert.Equal(t, "Unidad", h)

	missing := template("sup", "h9")
	missing.ID = "nope"
	assert.ErrorIs(t, db.UpdateTemplate(ctx, missing), internal.ErrNotFound)

	none, err := db.GetTemplate(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUploadsAndItems(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	hash := "h1"
	mapped := &internal.Upload{SupplierID: "sup", FileID: "f1", FileName: "a.xlsx", Status: internal.UploadMapped, HeaderHash: &hash}
	require.NoError(t, db.InsertUpload(ctx, mapped))
	reason := "blurry"
	require.NoError(t, db.InsertUpload(ctx, &internal.Upload{SupplierID: "sup", FileID: "f2", Status: internal.UploadErrorIllegible, Reason: &reason}))
	require.NoError(t, db.InsertUpload(ctx, &internal.Upload{SupplierID: "sup", FileID: "f3", Status: internal.UploadMapped}))

	seen, err := db.HasUpload(ctx, "sup", "f1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = db.HasUpload(ctx, "other", "f1")
	require.NoError(t, err)
	assert.False(t, seen)

	stats, err := db.UploadStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []internal.StatusCount{
		{Status: internal.UploadMapped, Count: 2},
		{Status: internal.UploadErrorIllegible, Count: 1},
	}, stats)

	list, err := db.ListUploads(ctx, internal.UploadQuery{SupplierID: "sup", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "f3", list[0].FileID)

	got, err := db.GetUpload(ctx, mapped.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.HeaderHash)
	assert.Equal(t, "h1", *got.HeaderHash)
	assert.Nil(t, got.Reason)

	sku, desc, price := "A1", "Tornillo", 10.5
	items := []internal.PriceItem{
		{LineNo: 1, SKU: &sku, Description: &desc, Price: &price, Extras: []internal.KV{{Key: "Marca", Value: "X"}}},
		{LineNo: 2, Description: &desc},
	}
	require.NoError(t, db.InsertItems(ctx, mapped.ID, items))

	stored, err := db.ListItems(ctx, mapped.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "A1", *stored[0].SKU)
	assert.InDelta(t, 10.5, *stored[0].Price, 1e-9)
	assert.Equal(t, []internal.KV{{Key: "Marca", Value: "X"}}, stored[0].Extras)
	assert.Nil(t, stored[1].SKU)
	assert.Empty(t, stored[1].Extras)
}

func TestRecordUploadIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	desc := "Tornillo"
	ok := &internal.Upload{SupplierID: "sup", FileID: "f1", Status: internal.UploadMapped}
	require.NoError(t, db.RecordUpload(ctx, ok, []internal.PriceItem{{LineNo: 1, Description: &desc}}))
	items, err := db.ListItems(ctx, ok.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = db.conn.ExecContext(ctx, `DROP TABLE items`)
	require.NoError(t, err)

	broken := &internal.Upload{SupplierID: "sup", FileID: "f2", Status: internal.UploadMapped}
	require.Error(t, db.RecordUpload(ctx, broken, []internal.PriceItem{{LineNo: 1, Description: &desc}}))

	seen, err := db.HasUpload(ctx, "sup", "f2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	const workers, perWorker = 8, 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				desc := fmt.Sprintf("item %d-%d", w, i)
				u := &internal.Upload{SupplierID: "sup", FileID: fmt.Sprintf("f-%d-%d", w, i), Status: internal.UploadMapped}
				items := []internal.PriceItem{{LineNo: 1, Description: &desc}, {LineNo: 2, Description: &desc}}
				if err := db.RecordUpload(ctx, u, items); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					continue
				}
				if _, err := db.HasUpload(ctx, "sup", u.FileID); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()
	require.Empty(t, errs)

	stats, err := db.UploadStats(ctx, "sup")
	require.NoError(t, err)
	assert.Equal(t, []internal.StatusCount{{Status: internal.UploadMapped, Count: workers * perWorker}}, stats)
}

func TestEmailsAndMetadata(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	msg := internal.FetchedMailMessage{Provider: "imap", MessageID: "<1@x>", Subject: "Lista", From: "Ventas <ventas@acme.com>", ReceivedAt: "2024-03-01T10:00:00Z"}
	row, err := db.UpsertEmail(ctx, msg, "abc", "/raw/abc.eml")
	require.NoError(t, err)
	assert.Equal(t, "fetched", row.Status)

	again, err := db.UpsertEmail(ctx, msg, "abc", "/raw/abc.eml")
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)

	list, err := db.ListEmails(ctx, "ACME.com", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = db.ListEmails(ctx, "other.com", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	byHash, err := db.GetEmailByHash(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, byHash)
	assert.Equal(t, "/raw/abc.eml", byHash.RawRef)

	require.NoError(t, db.SetMetadata(ctx, "listener.last_poll", "t1"))
	v, err := db.GetMetadata(ctx, "listener.last_poll")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "t1", *v)
}
