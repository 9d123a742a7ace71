// Package gcs stages uploads in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-importer/internal/store"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes staged uploads to a configured GCS bucket.
type BlobStore struct {
	client     *storage.Client
	bucket     string
	ownsClient bool
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Dial creates a client with Application Default Credentials and fails fast
// when the bucket is missing or inaccessible.
func Dial(ctx context.Context, cfg Config, opts ...option.ClientOption) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err),
			client.Close())
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, ownsClient: true}, nil
}

// PutObject streams r into the bucket and returns a gs:// URI. A reader error
// aborts the upload and is returned wrapped.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		// Canceling before Close discards the partial object.
		cancel()
		_ = writer.Close()
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// OpenObject streams an object. A missing object yields store.ErrNotFound.
func (s *BlobStore) OpenObject(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, path, store.ErrNotFound)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, path, err)
	}
	return rc, nil
}

// DeleteObject removes an object; a missing object is not an error.
func (s *BlobStore) DeleteObject(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", s.bucket, path, err)
	}
	return nil
}

// Close releases the client when Dial created it.
func (s *BlobStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
