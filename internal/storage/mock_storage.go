package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carrent-backend/internal/logger"
)

// MockStorageService stores objects on the local filesystem.
// This is for demo/testing without S3.
type MockStorageService struct {
	baseURL   string // Server URL (e.g., "http://localhost:8080")
	objectDir string
}

var _ ObjectStore = (*MockStorageService)(nil)

// NewMockStorageService creates a new mock storage service
func NewMockStorageService(baseURL, uploadsDir string) (*MockStorageService, error) {
	objectDir := filepath.Join(uploadsDir, "objects")
	if err := os.MkdirAll(objectDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}

	return &MockStorageService{
		baseURL:   strings.TrimRight(baseURL, "/"),
		objectDir: objectDir,
	}, nil
}

func (m *MockStorageService) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if err := m.SaveFile(key, r); err != nil {
		return "", err
	}
	logger.Debug("Stored object", "key", key, "contentType", contentType)
	return publicURL(m.baseURL, key), nil
}

// DownloadURL points at the API download route, which streams the file.
func (m *MockStorageService) DownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return publicURL(m.baseURL, key), nil
}

func (m *MockStorageService) Delete(ctx context.Context, key string) error {
	fullPath, err := m.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// SaveFile saves an object to the local filesystem
func (m *MockStorageService) SaveFile(key string, reader io.Reader) error {
	fullPath, err := m.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ReadFile opens an object for reading (used by the download handler)
func (m *MockStorageService) ReadFile(key string) (io.ReadCloser, error) {
	fullPath, err := m.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// path resolves key inside the object directory, refusing keys that escape it.
func (m *MockStorageService) path(key string) (string, error) {
	fullPath := filepath.Join(m.objectDir, filepath.FromSlash(key))
	if !strings.HasPrefix(fullPath, m.objectDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return fullPath, nil
}

// KeyToken is the URL-safe digest of key that the download route checks.
func KeyToken(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}
