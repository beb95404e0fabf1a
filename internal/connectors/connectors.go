package connectors

import (
	"context"

	"pricelist/internal"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// FileStore is a source of supplier files. A folder's meaning depends on
// the store: a Drive folder id, a directory, or a sender filter.
type FileStore interface {
	List(ctx context.Context, folderID, mediaTypeFilter string) ([]internal.FileMetadata, error)
	GetMetadata(ctx context.Context, fileID string) (internal.FileMetadata, error)
	GetContent(ctx context.Context, fileID string) ([]byte, error)
}
