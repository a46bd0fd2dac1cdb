// Package blob is the boundary to the object store holding raw CNAB file
// bytes. The processing pipeline only ever reads whole objects by key;
// uploads happen at the ingestion surface.
package blob

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// Fetcher reads whole objects by key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Uploader writes whole objects by key.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// GCS is a bucket-bound Google Cloud Storage client implementing Fetcher
// and Uploader.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS blob store bound to bucket.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Fetch downloads the object at key in full.
func (g *GCS) Fetch(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Upload writes data to the object at key, replacing any existing content.
func (g *GCS) Upload(ctx context.Context, key string, data []byte) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

var _ Fetcher = (*GCS)(nil)
var _ Uploader = (*GCS)(nil)
