package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient httpDoer = &http.Client{Timeout: 30 * time.Second}

func createUploadRequest(ctx context.Context, url, apiKey string, file io.Reader, contentType string) (*http.Request, error) {
	body := &bytes.Buffer{}
	if _, err := io.Copy(body, file); err != nil {
		return nil, fmt.Errorf("copying file to buffer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	return req, nil
}

func createDeleteRequest(ctx context.Context, url, apiKey string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	return req, nil
}
