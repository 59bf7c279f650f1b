package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"eduetl/internal/files"
)

// LocalBackend keeps objects as files below a root directory.
type LocalBackend struct {
	root      string
	files     *files.Manager
	discovery *files.Discovery
}

// NewLocalBackend creates a backend rooted at root.
func NewLocalBackend(root string, logger *slog.Logger) *LocalBackend {
	return &LocalBackend{
		root:      root,
		files:     files.NewManager(root, logger),
		discovery: files.NewDiscovery(root),
	}
}

func (b *LocalBackend) Name() string { return "local" }

// Put writes the object atomically.
func (b *LocalBackend) Put(_ context.Context, key string, r io.Reader) error {
	if _, err := b.files.WriteFile(filepath.FromSlash(key), r); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return nil
}

func (b *LocalBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := b.files.Open(filepath.FromSlash(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns the keys of every Parquet file below prefix. A prefix that
// names no directory yields an empty list.
func (b *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	found, err := b.discovery.FindRecursive(filepath.FromSlash(prefix), ParquetExtension)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(found))
	for _, f := range found {
		rel, err := filepath.Rel(b.root, f.Path)
		if err != nil {
			return nil, err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
