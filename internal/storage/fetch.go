package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Localize when a local source does not exist or a
// remote one answers 404.
var ErrNotFound = errors.New("source not found")

// storageScheme addresses an object in this service's own bucket.
const storageScheme = "storage://"

// Localize makes ref available on the local filesystem and returns its path.
//
//   - local paths and file:// URLs are returned as-is after an existence check;
//     file:// paths are percent-decoded
//   - http(s) URLs are downloaded to dst with retries
//   - storage://<path> objects are downloaded from the bucket to dst
//
// The returned path equals dst only when something was downloaded.
func (s *Storage) Localize(ctx context.Context, ref, dst string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if err := s.fetchURL(ctx, ref, dst, ""); err != nil {
			return "", err
		}
		return dst, nil

	case strings.HasPrefix(ref, storageScheme):
		objectURL := s.objectURL(strings.TrimPrefix(ref, storageScheme))
		if err := s.fetchURL(ctx, objectURL, dst, "Bearer "+s.serviceKey); err != nil {
			return "", err
		}
		return dst, nil
	}

	path, err := LocalPath(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return path, nil
}

// LocalPath converts a local path or file:// URL to a filesystem path.
func LocalPath(ref string) (string, error) {
	if !strings.HasPrefix(ref, "file://") {
		return filepath.Clean(ref), nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid file url %q: %w", ref, err)
	}
	// file://relative/path parses the first segment as a host.
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + path
	}
	if path == "" {
		return "", fmt.Errorf("invalid file url %q: empty path", ref)
	}
	return filepath.Clean(path), nil
}

// fetchURL downloads src to dst with the upload backoff policy. The body is
// streamed to a temp file beside dst and renamed into place.
func (s *Storage) fetchURL(ctx context.Context, src, dst, authorization string) error {
	return withRetry(ctx, "Fetch", src, func(ctx context.Context) (bool, error) {
		return s.fetchOnce(ctx, src, dst, authorization)
	})
}

func (s *Storage) fetchOnce(ctx context.Context, src, dst, authorization string) (retry bool, err error) {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, "GET", src, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return isRetryableError(err), fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return isRetryableStatus(resp.StatusCode), fmt.Errorf("fetch failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	tmp := dst + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return true, fmt.Errorf("failed to read fetch body: %w", copyErr)
		}
		return false, fmt.Errorf("failed to write %s: %w", tmp, closeErr)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return false, nil
}
