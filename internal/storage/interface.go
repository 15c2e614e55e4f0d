package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
)

// ObjectStore keeps uploaded photos. Both backends hand out URLs served by
// the API's download route, which streams or redirects to the object.
type ObjectStore interface {
	// Put stores the object under key and returns its public URL.
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)

	// DownloadURL returns a URL the object can be fetched from directly.
	DownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewObjectKey builds a unique key under prefix, keeping the extension of name.
func NewObjectKey(prefix, name string, now time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s%s", prefix, now.Year(), now.Month(), now.Day(), uuid.New(), path.Ext(name))
}

// publicURL is the API download route for key.
func publicURL(baseURL, key string) string {
	return fmt.Sprintf("%s/api/v1/download/%s?key=%s", baseURL, KeyToken(key), key)
}
