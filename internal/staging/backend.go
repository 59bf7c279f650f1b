package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"eduetl/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("staged object not found")

// Backend is an object store addressed by slash-separated keys.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewBackend builds the backend selected by cfg. The local backend stores
// objects under paths.StagingDir.
func NewBackend(ctx context.Context, cfg config.StagingConfig, paths *config.Paths, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.StagingBackendLocal, "":
		return NewLocalBackend(paths.StagingDir, logger), nil
	case config.StagingBackendGCS:
		return NewGCSBackendFromConfig(ctx, cfg)
	case config.StagingBackendS3:
		return NewS3BackendFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown staging backend %q", cfg.Backend)
	}
}
