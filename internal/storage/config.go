package storage

import (
	"context"
	"fmt"
)

// Config holds storage configuration
type Config struct {
	Type    string // "mock" or "s3"
	MockDir string // Directory for mock storage
	BaseURL string // Server base URL for generated URLs

	S3Bucket       string
	S3Region       string
	S3Endpoint     string // optional, for MinIO and other S3-compatible stores
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// New builds the backend selected by cfg.Type.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Type {
	case "", "mock":
		return NewMockStorageService(cfg.BaseURL, cfg.MockDir)
	case "s3":
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
