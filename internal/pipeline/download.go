package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// HTTPDownloader fetches recordings into TempDir, refusing bodies larger than MaxBytes.
type HTTPDownloader struct {
	Client   *http.Client
	TempDir  string
	MaxBytes int64
}

func NewHTTPDownloader(tempDir string, maxSizeMB int) *HTTPDownloader {
	return &HTTPDownloader{
		Client:   &http.Client{Timeout: 5 * time.Minute},
		TempDir:  tempDir,
		MaxBytes: int64(maxSizeMB) * 1024 * 1024,
	}
}

// Download stores the recording at a new temp path. On any error the partial
// file is removed.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", Permanent(fmt.Errorf("build request: %w", err))
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", Transient(fmt.Errorf("download status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", Permanent(fmt.Errorf("download status %d", resp.StatusCode))
	}
	if d.MaxBytes > 0 && resp.ContentLength > d.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrRecordingTooLarge, resp.ContentLength)
	}

	dir := d.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "recording-*"+extension(url))
	if err != nil {
		return "", err
	}
	name := f.Name()

	var body io.Reader = resp.Body
	if d.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, d.MaxBytes+1)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.MaxBytes > 0 && n > d.MaxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrRecordingTooLarge, d.MaxBytes)
	}
	if err != nil {
		_ = os.Remove(name)
		if errors.Is(err, ErrRecordingTooLarge) {
			return "", err
		}
		return "", Transient(err)
	}
	return name, nil
}

func extension(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	ext := strings.ToLower(path.Ext(url))
	switch ext {
	case ".mp3", ".wav", ".m4a", ".ogg", ".webm", ".mp4", ".flac":
		return ext
	default:
		return ".mp3"
	}
}

// removeRecording deletes a downloaded file. Missing files are not an error.
func removeRecording(p string) error {
	if p == "" {
		return nil
	}
	err := os.Remove(filepath.Clean(p))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
