package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tarikpinarli/replicator/internal/reliability"
)

// ImgBBUploader publishes a local frame to the ImgBB image host so the
// generation provider can fetch it by URL.
type ImgBBUploader struct {
	apiKey      string
	uploadURL   string
	httpc       *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

func NewImgBBUploader(apiKey, uploadURL string) *ImgBBUploader {
	return &ImgBBUploader{
		apiKey:      apiKey,
		uploadURL:   uploadURL,
		httpc:       &http.Client{Timeout: 60 * time.Second},
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
}

// Upload sends the file as multipart form data and returns the public URL.
// Throttling and server-side errors are retried with capped backoff.
func (u *ImgBBUploader) Upload(ctx context.Context, filePath string) (string, error) {
	payload, contentType, err := u.buildForm(filePath)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < u.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, u.baseDelay, 10*time.Second)):
			}
		}

		url, retryable, err := u.attempt(ctx, payload, contentType)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (u *ImgBBUploader) buildForm(filePath string) ([]byte, string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filepath.Base(filePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("key", u.apiKey); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func (u *ImgBBUploader) attempt(ctx context.Context, payload []byte, contentType string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.httpc.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
		return "", true, fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("decode upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !result.Success || result.Data.URL == "" {
		return "", false, fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}
	return result.Data.URL, false, nil
}
