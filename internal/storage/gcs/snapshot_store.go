// Package gcs provides a SnapshotStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to archive snapshots.
type Config struct {
	Bucket string
	Prefix string
}

// SnapshotStore writes raw page bodies to a GCS bucket.
type SnapshotStore struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SnapshotStore{client: client, cfg: cfg}, nil
}

// Save uploads the body and returns its gs:// URI.
func (s *SnapshotStore) Save(ctx context.Context, path string, contentType string, body []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := path
	if prefix := strings.Trim(s.cfg.Prefix, "/"); prefix != "" {
		full = prefix + "/" + path
	}
	writer := s.client.Bucket(s.cfg.Bucket).Object(full).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, full), nil
}
