package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pricelist/internal"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type DB struct {
	conn *sql.DB
	now  func() time.Time
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, now: time.Now}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

// dsn applies the pragmas on every pooled connection. Transactions begin
// IMMEDIATE so concurrent writers wait on busy_timeout instead of failing
// when a read lock cannot be upgraded.
func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS format_templates (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  supplierId TEXT NOT NULL,
  name TEXT NOT NULL,
  state TEXT NOT NULL,
  headerHash TEXT NOT NULL,
  fingerprintJson TEXT NOT NULL,
  mappingJson TEXT NOT NULL,
  sourceFileId TEXT,
  createdAt TEXT NOT NULL,
  updatedAt TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_supplier_state ON format_templates(supplierId, state);
CREATE INDEX IF NOT EXISTS idx_templates_hash ON format_templates(headerHash);

CREATE TABLE IF NOT EXISTS uploads (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  supplierId TEXT NOT NULL,
  fileId TEXT NOT NULL,
  fileName TEXT,
  status TEXT NOT NULL,
  templateId TEXT,
  headerHash TEXT,
  reason TEXT,
  createdAt TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_supplier_file ON uploads(supplierId, fileId);

CREATE TABLE IF NOT EXISTS items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uploadId TEXT NOT NULL,
  lineNo INTEGER NOT NULL,
  sku TEXT,
  description TEXT,
  price REAL,
  priceRaw TEXT,
  unit TEXT,
  extrasJson TEXT NOT NULL,
  UNIQUE(uploadId, lineNo),
  FOREIGN KEY(uploadId) REFERENCES uploads(id)
);

CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) stamp() string {
	return d.now().UTC().Format(timeLayout)
}

func parseStamp(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// InsertTemplate assigns id and timestamps when missing.
func (d *DB) InsertTemplate(ctx context.Context, t *internal.FormatTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = parseStamp(d.stamp())
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	fpJSON, err := json.Marshal(t.Fingerprint)
	if err != nil {
		return err
	}
	mappingJSON, err := json.Marshal(t.Mapping)
	if err != nil {
		return err
	}

	_, err = d.conn.ExecContext(ctx, `
INSERT INTO format_templates (id, supplierId, name, state, headerHash, fingerprintJson, mappingJson, sourceFileId, createdAt, updatedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, t.ID, t.SupplierID, t.Name, string(t.State), t.Fingerprint.HeaderHash, string(fpJSON), string(mappingJSON),
		nullable(t.SourceFileID), t.CreatedAt.UTC().Format(timeLayout), t.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// UpdateTemplate rewrites the mutable columns of an existing template and
// bumps updatedAt.
func (d *DB) UpdateTemplate(ctx context.Context, t *internal.FormatTemplate) error {
	fpJSON, err := json.Marshal(t.Fingerprint)
	if err != nil {
		return err
	}
	mappingJSON, err := json.Marshal(t.Mapping)
	if err != nil {
		return err
	}

	now := d.stamp()
	res, err := d.conn.ExecContext(ctx, `
UPDATE format_templates
SET name = ?, state = ?, headerHash = ?, fingerprintJson = ?, mappingJson = ?, updatedAt = ?
WHERE id = ?
`, t.Name, string(t.State), t.Fingerprint.HeaderHash, string(fpJSON), string(mappingJSON), now, t.ID)
	if err != nil {
		return fmt.Errorf("update template %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update template %s: %w", t.ID, internal.ErrNotFound)
	}
	t.UpdatedAt = parseStamp(now)
	return nil
}

func (d *DB) ListTemplates(ctx context.Context, q internal.TemplateQuery) ([]internal.FormatTemplate, error) {
	var (
		where []string
		args  []any
	)
	if q.ID != "" {
		where = append(where, "id = ?")
		args = append(args, q.ID)
	}
	if q.SupplierID != "" {
		where = append(where, "supplierId = ?")
		args = append(args, q.SupplierID)
	}
	if q.HeaderHash != "" {
		where = append(where, "headerHash = ?")
		args = append(args, q.HeaderHash)
	}
	if q.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(q.State))
	}

	query := `SELECT id, supplierId, name, state, fingerprintJson, mappingJson, sourceFileId, createdAt, updatedAt FROM format_templates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.NewestFirst {
		query += " ORDER BY createdAt DESC, seq DESC"
	} else {
		query += " ORDER BY createdAt ASC, seq ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []internal.FormatTemplate
	for rows.Next() {
		var (
			t                          internal.FormatTemplate
			state, fpJSON, mappingJSON string
			sourceFileID               sql.NullString
			createdAt, updatedAt       string
		)
		if err := rows.Scan(&t.ID, &t.SupplierID, &t.Name, &state, &fpJSON, &mappingJSON, &sourceFileID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fpJSON), &t.Fingerprint); err != nil {
			return nil, fmt.Errorf("template %s fingerprint: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(mappingJSON), &t.Mapping); err != nil {
			return nil, fmt.Errorf("template %s mapping: %w", t.ID, err)
		}
		t.State = internal.TemplateState(state)
		t.SourceFileID = sourceFileID.String
		t.CreatedAt = parseStamp(createdAt)
		t.UpdatedAt = parseStamp(updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) GetTemplate(ctx context.Context, id string) (*internal.FormatTemplate, error) {
	list, err := d.ListTemplates(ctx, internal.TemplateQuery{ID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (d *DB) InsertUpload(ctx context.Context, u *internal.Upload) error {
	return d.insertUpload(ctx, d.conn, u)
}

// RecordUpload writes an upload row and its items in one transaction, so a
// recorded upload never lacks the items extracted for it.
func (d *DB) RecordUpload(ctx context.Context, u *internal.Upload, items []internal.PriceItem) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := d.insertUpload(ctx, tx, u); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, u.ID, items); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) insertUpload(ctx context.Context, ex execer, u *internal.Upload) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = parseStamp(d.stamp())
	}
	_, err := ex.ExecContext(ctx, `
INSERT INTO uploads (id, supplierId, fileId, fileName, status, templateId, headerHash, reason, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, u.ID, u.SupplierID, u.FileID, u.FileName, string(u.Status), u.TemplateID, u.HeaderHash, u.Reason, u.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (d *DB) ListUploads(ctx context.Context, q internal.UploadQuery) ([]internal.Upload, error) {
	var (
		where []string
		args  []any
	)
	if q.SupplierID != "" {
		where = append(where, "supplierId = ?")
		args = append(args, q.SupplierID)
	}
	if q.FileID != "" {
		where = append(where, "fileId = ?")
		args = append(args, q.FileID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}

	query := `SELECT id, supplierId, fileId, fileName, status, templateId, headerHash, reason, createdAt FROM uploads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY createdAt DESC, seq DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []internal.Upload
	for rows.Next() {
		var (
			u         internal.Upload
			fileName  sql.NullString
			status    string
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.SupplierID, &u.FileID, &fileName, &status, &u.TemplateID, &u.HeaderHash, &u.Reason, &createdAt); err != nil {
			return nil, err
		}
		u.FileName = fileName.String
		u.Status = internal.UploadStatus(status)
		u.CreatedAt = parseStamp(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *DB) GetUpload(ctx context.Context, id string) (*internal.Upload, error) {
	var (
		u         internal.Upload
		fileName  sql.NullString
		status    string
		createdAt string
	)
	err := d.conn.QueryRowContext(ctx, `
SELECT id, supplierId, fileId, fileName, status, templateId, headerHash, reason, createdAt
FROM uploads WHERE id = ?
`, id).Scan(&u.ID, &u.SupplierID, &u.FileID, &fileName, &status, &u.TemplateID, &u.HeaderHash, &u.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.FileName = fileName.String
	u.Status = internal.UploadStatus(status)
	u.CreatedAt = parseStamp(createdAt)
	return &u, nil
}

func (d *DB) HasUpload(ctx context.Context, supplierID, fileID string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM uploads WHERE supplierId = ? AND fileId = ?`, supplierID, fileID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) UploadStats(ctx context.Context, supplierID string) ([]internal.StatusCount, error) {
	query := `SELECT status, COUNT(1) FROM uploads`
	var args []any
	if supplierID != "" {
		query += " WHERE supplierId = ?"
		args = append(args, supplierID)
	}
	query += " GROUP BY status ORDER BY COUNT(1) DESC, status ASC"

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.StatusCount
	for rows.Next() {
		var (
			sc     internal.StatusCount
			status string
		)
		if err := rows.Scan(&status, &sc.Count); err != nil {
			return nil, err
		}
		sc.Status = internal.UploadStatus(status)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (d *DB) InsertItems(ctx context.Context, uploadID string, items []internal.PriceItem) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertItems(ctx, tx, uploadID, items); err != nil {
		return err
	}
	return tx.Commit()
}

func insertItems(ctx context.Context, ex execer, uploadID string, items []internal.PriceItem) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := ex.PrepareContext(ctx, `
INSERT INTO items (uploadId, lineNo, sku, description, price, priceRaw, unit, extrasJson)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(uploadId, lineNo) DO NOTHING
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		extras := item.Extras
		if extras == nil {
			extras = []internal.KV{}
		}
		extrasJSON, err := json.Marshal(extras)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, uploadID, item.LineNo, item.SKU, item.Description, item.Price, item.PriceRaw, item.Unit, string(extrasJSON)); err != nil {
			return fmt.Errorf("insert item %d: %w", item.LineNo, err)
		}
	}
	return nil
}

func (d *DB) ListItems(ctx context.Context, uploadID string) ([]internal.PriceItem, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT lineNo, sku, description, price, priceRaw, unit, extrasJson
FROM items WHERE uploadId = ? ORDER BY lineNo ASC
`, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.PriceItem
	for rows.Next() {
		var (
			item       internal.PriceItem
			extrasJSON string
		)
		if err := rows.Scan(&item.LineNo, &item.SKU, &item.Description, &item.Price, &item.PriceRaw, &item.Unit, &extrasJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(extrasJSON), &item.Extras)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (d *DB) UpsertEmail(ctx context.Context, msg internal.FetchedMailMessage, hash, rawRef string) (internal.EmailRow, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, 'fetched', ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}

	row, err := d.scanEmail(d.conn.QueryRowContext(ctx, `
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM emails WHERE provider = ? AND messageId = ?
`, msg.Provider, msg.MessageID))
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

// ListEmails returns stored e-mails whose sender contains senderFilter
// (case-insensitive, empty matches all), newest first.
func (d *DB) ListEmails(ctx context.Context, senderFilter string, limit int) ([]internal.EmailRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM emails
WHERE ? = '' OR instr(lower(COALESCE(sender, '')), lower(?)) > 0
ORDER BY receivedAt DESC, id DESC
LIMIT ?
`, senderFilter, senderFilter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		var row internal.EmailRow
		if err := rows.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) GetEmailByHash(ctx context.Context, hash string) (*internal.EmailRow, error) {
	return d.scanEmail(d.conn.QueryRowContext(ctx, `
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM emails WHERE hash = ? ORDER BY id ASC LIMIT 1
`, hash))
}

func (d *DB) UpdateEmailStatus(ctx context.Context, emailID int, status string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	return err
}

func (d *DB) scanEmail(r *sql.Row) (*internal.EmailRow, error) {
	var row internal.EmailRow
	err := r.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
