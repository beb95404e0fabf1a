// Package drive reads supplier files from Google Drive folders with a
// service account.
package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"pricelist/internal"
	"pricelist/internal/config"
)

const (
	googleSheetType = "application/vnd.google-apps.spreadsheet"
	xlsxType        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	fileFields      = "id, name, mimeType, size, modifiedTime"
)

// Store connects on first use and reuses the Drive service for every later
// call. It is safe for concurrent use.
type Store struct {
	credentialsFile string
	pageSize        int64
	clientOpts      []option.ClientOption
	logger          zerolog.Logger

	mu      sync.Mutex
	service *gdrive.Service
}

type Option func(*Store)

// WithClientOptions replaces service-account authentication, e.g. with an
// HTTP client and endpoint for tests.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *Store) {
		s.clientOpts = opts
	}
}

func NewStore(cfg config.Config, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		credentialsFile: cfg.DriveCredentialsFile,
		pageSize:        int64(cfg.DrivePageSize),
		logger:          logger,
	}
	if s.pageSize <= 0 {
		s.pageSize = 50
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect creates the Drive service once. Later calls return the cached one.
func (s *Store) Connect(ctx context.Context) (*gdrive.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.service != nil {
		return s.service, nil
	}

	opts := s.clientOpts
	if len(opts) == 0 {
		blob, err := os.ReadFile(s.credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read drive credentials: %w", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(blob, gdrive.DriveReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse drive credentials: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(jwtCfg.TokenSource(context.Background()))}
	}

	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	s.service = svc
	s.logger.Info().Msg("drive.connected")
	return svc, nil
}

// List returns the non-trashed files of a folder, newest first. A non-empty
// mediaTypeFilter restricts the listing to that MIME type.
func (s *Store) List(ctx context.Context, folderID, mediaTypeFilter string) ([]internal.FileMetadata, error) {
	svc, err := s.Connect(ctx)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	if mediaTypeFilter != "" {
		q += fmt.Sprintf(" and mimeType = '%s'", escapeQuery(mediaTypeFilter))
	}

	var out []internal.FileMetadata
	err = svc.Files.List().
		Q(q).
		OrderBy("modifiedTime desc").
		PageSize(s.pageSize).
		Fields("nextPageToken", "files("+fileFields+")").
		Pages(ctx, func(page *gdrive.FileList) error {
			for _, f := range page.Files {
				out = append(out, toMetadata(f))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list drive folder %s: %w", folderID, err)
	}
	return out, nil
}

func (s *Store) GetMetadata(ctx context.Context, fileID string) (internal.FileMetadata, error) {
	svc, err := s.Connect(ctx)
	if err != nil {
		return internal.FileMetadata{}, err
	}
	f, err := svc.Files.Get(fileID).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return internal.FileMetadata{}, fmt.Errorf("drive metadata %s: %w", fileID, err)
	}
	return toMetadata(f), nil
}

// GetContent downloads a file. Google Sheets are exported as xlsx.
func (s *Store) GetContent(ctx context.Context, fileID string) ([]byte, error) {
	svc, err := s.Connect(ctx)
	if err != nil {
		return nil, err
	}
	f, err := svc.Files.Get(fileID).Fields("mimeType").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("drive metadata %s: %w", fileID, err)
	}

	if f.MimeType == googleSheetType {
		resp, err := svc.Files.Export(fileID, xlsxType).Context(ctx).Download()
		if err != nil {
			return nil, fmt.Errorf("drive export %s: %w", fileID, err)
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}

	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// toMetadata reports Google Sheets with the xlsx type they are exported as.
func toMetadata(f *gdrive.File) internal.FileMetadata {
	mediaType := f.MimeType
	if mediaType == googleSheetType {
		mediaType = xlsxType
	}
	return internal.FileMetadata{
		ID:           f.Id,
		Name:         f.Name,
		MediaType:    mediaType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
	}
}

func escapeQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
