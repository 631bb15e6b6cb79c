//go:build gcp

package evidence

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSBlobStore implements BlobStore using Google Cloud Storage.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore creates a GCS-backed blob store (uses ADC by default).
func NewGCSBlobStore(ctx context.Context, bucket string) (*GCSBlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: create GCS client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

func (s *GCSBlobStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("evidence: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("evidence: gcs close failed: %w", err)
	}
	return nil
}
