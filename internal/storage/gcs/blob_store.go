// Package gcs archives pages in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
	// ChunkSize overrides the resumable upload chunk size; zero keeps the
	// client default.
	ChunkSize int
}

// BlobStore writes artifacts under one bucket prefix.
type BlobStore struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	name      string
	prefix    string
	chunkSize int
	closer    func() error
}

// New wraps client. The caller keeps ownership of it.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{
		client:    client,
		bucket:    client.Bucket(bucket),
		name:      bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		chunkSize: cfg.ChunkSize,
		closer:    func() error { return nil },
	}, nil
}

// Open dials GCS with application default credentials. The returned store
// owns the client and releases it on Close.
func Open(ctx context.Context, cfg Config) (*BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.closer = client.Close
	return store, nil
}

// PutObject uploads r as name and returns its gs:// URI. A failed copy
// aborts the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("gcs: path is required")
	}
	object := s.objectName(name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if s.chunkSize > 0 {
		w.ChunkSize = s.chunkSize
	}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: commit %s: %w", object, err)
	}
	return s.uri(object), nil
}

// Close releases the client when Open created it.
func (s *BlobStore) Close() error {
	if err := s.closer(); err != nil {
		return fmt.Errorf("gcs: close client: %w", err)
	}
	return nil
}

func (s *BlobStore) objectName(name string) string {
	name = strings.TrimLeft(name, "/")
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *BlobStore) uri(object string) string {
	return "gs://" + s.name + "/" + object
}
