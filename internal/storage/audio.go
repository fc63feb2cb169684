// Package storage resolves uploaded audio files to short-lived URLs the
// transcription providers can fetch, and deletes them after processing.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AudioStorage is backed by a Supabase storage bucket.
type AudioStorage struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

func NewAudioStorage(supabaseURL, serviceKey, bucket string) *AudioStorage {
	return &AudioStorage{
		baseURL:    strings.TrimSuffix(supabaseURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SignedURL mints a time-limited download URL for fileID.
func (s *AudioStorage) SignedURL(ctx context.Context, fileID string, ttl time.Duration) (string, error) {
	url := fmt.Sprintf("%s/object/sign/%s/%s", s.baseURL, s.bucket, fileID)
	body := strings.NewReader(fmt.Sprintf(`{"expiresIn":%d}`, int(ttl.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("create sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign file url: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("sign failed (%d): %s", resp.StatusCode, string(raw))
	}

	// Response: {"signedURL": "/object/sign/<bucket>/<path>?token=..."}
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode sign response: %w", err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("sign response missing signedURL")
	}
	return s.baseURL + out.SignedURL, nil
}

func (s *AudioStorage) Delete(ctx context.Context, fileID string) error {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, fileID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete failed (%d)", resp.StatusCode)
	}
	return nil
}
