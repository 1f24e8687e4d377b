package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"
)

// MockStorage stands in for R2 when object storage is not configured. It
// discards uploads and hands out deterministic fake URLs so the rest of
// the system can run in development.
type MockStorage struct {
	baseURL string
}

// NewMockStorage creates a mock storage client.
func NewMockStorage() *MockStorage {
	return &MockStorage{baseURL: "https://cdn.clipreel.local"}
}

// Upload discards the body and returns a fake public URL.
func (m *MockStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload body: %w", err)
	}
	log.Printf("[Mock storage] discarded %d bytes for %s (%s)", n, key, contentType)
	return m.GetPublicURL(key), nil
}

// Delete is a no-op.
func (m *MockStorage) Delete(ctx context.Context, key string) error {
	log.Printf("[Mock storage] delete %s", key)
	return nil
}

// GetSignedURL returns a fake URL; there is nothing to sign.
func (m *MockStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return m.GetPublicURL(key), nil
}

// GetPublicURL returns a deterministic fake CDN URL.
func (m *MockStorage) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/%s", m.baseURL, key)
}
