package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pricelist/internal"
	"pricelist/internal/pipeline"
)

// Store serves files under a root directory. File ids are slash-separated
// paths relative to the root; folders are subdirectories.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) List(_ context.Context, folderID, mediaTypeFilter string) ([]internal.FileMetadata, error) {
	dir, err := s.resolve(folderID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type entry struct {
		meta internal.FileMetadata
		mod  time.Time
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		meta := s.metadata(filepath.Join(folderID, e.Name()), info)
		if mediaTypeFilter != "" && meta.MediaType != mediaTypeFilter {
			continue
		}
		found = append(found, entry{meta: meta, mod: info.ModTime()})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })
	out := make([]internal.FileMetadata, len(found))
	for i, e := range found {
		out[i] = e.meta
	}
	return out, nil
}

func (s *Store) GetMetadata(_ context.Context, fileID string) (internal.FileMetadata, error) {
	path, err := s.resolve(fileID)
	if err != nil {
		return internal.FileMetadata{}, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return internal.FileMetadata{}, fmt.Errorf("%w: %s", internal.ErrNotFound, fileID)
	}
	if err != nil {
		return internal.FileMetadata{}, err
	}
	if info.IsDir() {
		return internal.FileMetadata{}, fmt.Errorf("%s is a directory", fileID)
	}
	return s.metadata(fileID, info), nil
}

func (s *Store) GetContent(_ context.Context, fileID string) ([]byte, error) {
	path, err := s.resolve(fileID)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", internal.ErrNotFound, fileID)
	}
	return blob, err
}

func (s *Store) metadata(id string, info os.FileInfo) internal.FileMetadata {
	return internal.FileMetadata{
		ID:           filepath.ToSlash(filepath.Clean(id)),
		Name:         info.Name(),
		MediaType:    pipeline.MediaTypeFor(info.Name()),
		Size:         info.Size(),
		ModifiedTime: info.ModTime().UTC().Format(time.RFC3339),
	}
}

// resolve maps an id to a path, refusing ids that leave the root.
func (s *Store) resolve(id string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(id))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the store root", internal.ErrNotFound, id)
	}
	return filepath.Join(s.root, rel), nil
}
