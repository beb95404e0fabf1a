// Package mailbox exposes attachments of fetched supplier e-mails as files.
// A folder is a sender filter; a file id is "<message hash>:<attachment index>".
package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jhillyerd/enmime"

	"pricelist/internal"
	"pricelist/internal/pipeline"
)

type EmailIndex interface {
	ListEmails(ctx context.Context, senderFilter string, limit int) ([]internal.EmailRow, error)
	GetEmailByHash(ctx context.Context, hash string) (*internal.EmailRow, error)
}

type Store struct {
	emails EmailIndex
}

func NewStore(emails EmailIndex) *Store {
	return &Store{emails: emails}
}

func (s *Store) List(ctx context.Context, folderID, mediaTypeFilter string) ([]internal.FileMetadata, error) {
	rows, err := s.emails.ListEmails(ctx, folderID, 0)
	if err != nil {
		return nil, err
	}

	var out []internal.FileMetadata
	for _, row := range rows {
		env, err := readEnvelope(row)
		if err != nil {
			return nil, err
		}
		for i, att := range env.Attachments {
			meta := attachmentMetadata(row, i, att)
			if mediaTypeFilter != "" && meta.MediaType != mediaTypeFilter {
				continue
			}
			out = append(out, meta)
		}
	}
	return out, nil
}

func (s *Store) GetMetadata(ctx context.Context, fileID string) (internal.FileMetadata, error) {
	row, att, index, err := s.attachment(ctx, fileID)
	if err != nil {
		return internal.FileMetadata{}, err
	}
	return attachmentMetadata(*row, index, att), nil
}

func (s *Store) GetContent(ctx context.Context, fileID string) ([]byte, error) {
	_, att, _, err := s.attachment(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return att.Content, nil
}

func (s *Store) attachment(ctx context.Context, fileID string) (*internal.EmailRow, *enmime.Part, int, error) {
	hash, idx, ok := strings.Cut(fileID, ":")
	index, err := strconv.Atoi(idx)
	if !ok || hash == "" || err != nil || index < 0 {
		return nil, nil, 0, fmt.Errorf("%w: malformed attachment id %q", internal.ErrNotFound, fileID)
	}

	row, err := s.emails.GetEmailByHash(ctx, hash)
	if err != nil {
		return nil, nil, 0, err
	}
	if row == nil {
		return nil, nil, 0, fmt.Errorf("%w: message %s", internal.ErrNotFound, hash)
	}

	env, err := readEnvelope(*row)
	if err != nil {
		return nil, nil, 0, err
	}
	if index >= len(env.Attachments) {
		return nil, nil, 0, fmt.Errorf("%w: attachment %d of %s", internal.ErrNotFound, index, hash)
	}
	return row, env.Attachments[index], index, nil
}

func readEnvelope(row internal.EmailRow) (*enmime.Envelope, error) {
	raw, err := os.ReadFile(row.RawRef)
	if err != nil {
		return nil, fmt.Errorf("read raw message %s: %w", row.Hash, err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", row.Hash, err)
	}
	return env, nil
}

func attachmentMetadata(row internal.EmailRow, index int, att *enmime.Part) internal.FileMetadata {
	name := att.FileName
	if name == "" {
		name = fmt.Sprintf("attachment-%d", index)
	}
	// Mail clients often send spreadsheets as octet-stream.
	mediaType := strings.ToLower(att.ContentType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = pipeline.MediaTypeFor(name)
	}
	meta := internal.FileMetadata{
		ID:        fmt.Sprintf("%s:%d", row.Hash, index),
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(att.Content)),
	}
	if row.ReceivedAt != nil {
		meta.ModifiedTime = *row.ReceivedAt
	}
	return meta
}
