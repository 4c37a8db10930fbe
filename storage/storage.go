package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Storage holds receipt images for expense lines. Keys are object paths
// inside the configured bucket.
type Storage interface {
	Upload(ctx context.Context, key string, file io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// SupabaseStorage talks to the Supabase storage REST API.
type SupabaseStorage struct {
	baseURL   string
	publicURL string
	apiKey    string
	bucket    string
	client    httpDoer
}

func NewSupabaseStorage(baseURL, publicURL, apiKey, bucket string) *SupabaseStorage {
	return &SupabaseStorage{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		publicURL: strings.TrimSuffix(publicURL, "/"),
		apiKey:    apiKey,
		bucket:    bucket,
		client:    defaultClient,
	}
}

func (s *SupabaseStorage) objectURL(key string) string {
	if strings.HasSuffix(s.baseURL, "/storage/v1") {
		return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, key)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, key)
}

// Upload stores file under key, replacing any existing object, and returns key.
func (s *SupabaseStorage) Upload(ctx context.Context, key string, file io.Reader, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("uploading object: empty key")
	}
	zap.L().Debug("Uploading object",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.String("content_type", contentType))

	req, err := createUploadRequest(ctx, s.objectURL(key), s.apiKey, file, contentType)
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		zap.L().Warn("Object upload rejected",
			zap.String("key", key),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, body)
	}
	return key, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, key string) error {
	req, err := createDeleteRequest(ctx, s.objectURL(key), s.apiKey)
	if err != nil {
		return fmt.Errorf("creating delete request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return nil
}

func (s *SupabaseStorage) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.publicURL, s.bucket, key)
}
