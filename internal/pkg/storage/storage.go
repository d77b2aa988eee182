package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("file not found")

// Storage is the backend for uploaded spreadsheets and enrichment results.
type Storage interface {
	// Save stores a file at the given key.
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Open returns the file contents. Callers close the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a file. Returns nil if the file doesn't exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a file is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// SignedURL returns a time-limited download link for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string // s3 or local

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string

	LocalDir       string
	LocalPublicURL string
	SigningKey     string
}

// New builds the backend named by cfg.Driver.
func New(cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(cfg)
	case "", "local":
		return NewLocalStorage(cfg.LocalDir, cfg.LocalPublicURL, cfg.SigningKey)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
