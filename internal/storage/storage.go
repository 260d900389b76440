package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
)

const (
	// Per-attempt timeouts; composited videos run to hundreds of MB
	uploadTimeout   = 300 * time.Second
	downloadTimeout = 180 * time.Second
)

// Storage is a Supabase Storage client for one bucket. It also fetches arbitrary
// http(s) and local sources for the render pipeline; see Localize.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
}

func New(url, serviceKey, bucket string) *Storage {
	return &Storage{
		url:        url,
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *Storage) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)
}

// Upload stores data at objectPath, overwriting any existing object.
func (s *Storage) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	return s.upload(ctx, objectPath, contentType, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// UploadFile streams a local file to objectPath. The file is reopened for every
// attempt so large renders are never held in memory.
func (s *Storage) UploadFile(ctx context.Context, objectPath, localPath string, contentType string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	return s.upload(ctx, objectPath, contentType, info.Size(), func() (io.ReadCloser, error) {
		return os.Open(localPath)
	})
}

// upload PUTs with x-upsert so a retried render overwrites its earlier output.
func (s *Storage) upload(ctx context.Context, objectPath, contentType string, size int64, open func() (io.ReadCloser, error)) error {
	url := s.objectURL(objectPath)

	return withRetry(ctx, "Upload", objectPath, func(ctx context.Context) (bool, error) {
		body, err := open()
		if err != nil {
			return false, fmt.Errorf("failed to open upload body: %w", err)
		}
		defer body.Close()

		// Each attempt gets its own timeout, independent of the caller's deadline
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, "PUT", url, body)
		if err != nil {
			return false, fmt.Errorf("failed to create request: %w", err)
		}
		req.ContentLength = size
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return isRetryableError(err), fmt.Errorf("failed to upload: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return false, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return isRetryableStatus(resp.StatusCode), fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(msg), 200))
	})
}

// GetPublicURL returns the public URL for an object
func (s *Storage) GetPublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, objectPath)
}

// GetSignedURL creates a URL granting access to objectPath for expiresIn seconds.
func (s *Storage) GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, objectPath)

	payload, err := json.Marshal(map[string]int{"expiresIn": expiresIn})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + result.SignedURL, nil
}

// GenerateStoragePath is where a render keeps its files.
func (s *Storage) GenerateStoragePath(renderID uuid.UUID, filename string) string {
	return path.Join("renders", renderID.String(), filename)
}
