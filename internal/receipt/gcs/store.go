// Package gcs keeps receipt images in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/receipt"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// Store uses Application Default Credentials.
type Store struct {
	client *storage.Client
	bucket string
}

var _ receipt.AttachmentStore = (*Store)(nil)

func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Put uploads data under key and returns its gs:// URI.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", core.ExternalService("gcs", fmt.Errorf("copy to writer: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", core.ExternalService("gcs", fmt.Errorf("finalize upload: %w", err))
	}
	return URI(s.bucket, key), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func URI(bucket, key string) string {
	return "gs://" + bucket + "/" + key
}
