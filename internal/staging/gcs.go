package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"eduetl/internal/config"
)

// GCSBackend stores objects in a Cloud Storage bucket.
type GCSBackend struct {
	svc    *storage.Service
	bucket string
}

// NewGCSBackend wraps an existing storage service.
func NewGCSBackend(svc *storage.Service, bucket string) *GCSBackend {
	return &GCSBackend{svc: svc, bucket: bucket}
}

// NewGCSBackendFromConfig builds the storage client from application
// default credentials, an explicit credentials file, or a custom endpoint.
func NewGCSBackendFromConfig(ctx context.Context, cfg config.StagingConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewGCSBackend(svc, cfg.Bucket), nil
}

func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) Put(ctx context.Context, key string, r io.Reader) error {
	obj := &storage.Object{Name: key, ContentType: "application/vnd.apache.parquet"}
	if _, err := b.svc.Objects.Insert(b.bucket, obj).Media(r).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to upload gs://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := b.svc.Objects.Get(b.bucket, key).Context(ctx).Download()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("gs://%s/%s: %w", b.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download gs://%s/%s: %w", b.bucket, key, err)
	}
	return resp.Body, nil
}

func (b *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.svc.Objects.List(b.bucket).Prefix(prefix).Pages(ctx, func(page *storage.Objects) error {
		for _, obj := range page.Items {
			if hasParquetExtension(obj.Name) {
				keys = append(keys, obj.Name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list gs://%s/%s: %w", b.bucket, prefix, err)
	}
	return keys, nil
}
