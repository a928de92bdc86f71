// -----------------------------------------------------------------------
// Blobstore - Fetches job sources and delivers assembled results
// -----------------------------------------------------------------------

package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// Service moves document bytes between the outside world and a job
// workspace. Sources and destinations are file paths, file:// URLs, or
// http(s) URLs. Network and 5xx failures surface as transient errors so
// a rerun of the job retries them; a source that plainly does not exist
// is malformed input and not worth retrying.
type Service struct {
	client *http.Client
	logger arbor.ILogger
}

// NewService creates a blobstore service with the given HTTP timeout.
func NewService(timeout time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Download fetches source into destPath, creating parent directories.
// Re-downloading over an existing file is safe; the write goes through a
// temp file so a crash never leaves a partial artifact at destPath.
func (s *Service) Download(ctx context.Context, source, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	switch scheme(source) {
	case "http", "https":
		return s.downloadHTTP(ctx, source, destPath)
	case "file":
		u, err := url.Parse(source)
		if err != nil {
			return &models.MalformedInputError{Path: source, Reason: "invalid file URL"}
		}
		return s.copyLocal(u.Path, destPath)
	default:
		return s.copyLocal(source, destPath)
	}
}

// Upload delivers localPath to dest. The markdown result is the only
// thing uploaded in practice, but the service does not care.
func (s *Service) Upload(ctx context.Context, localPath, dest string) error {
	switch scheme(dest) {
	case "http", "https":
		return s.uploadHTTP(ctx, localPath, dest)
	case "file":
		u, err := url.Parse(dest)
		if err != nil {
			return &models.MalformedInputError{Path: dest, Reason: "invalid file URL"}
		}
		return s.copyLocal(localPath, u.Path)
	default:
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("create upload directory: %w", err)
		}
		return s.copyLocal(localPath, dest)
	}
}

func (s *Service) downloadHTTP(ctx context.Context, source, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return &models.MalformedInputError{Path: source, Reason: err.Error()}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &models.TransientServiceError{Service: "blobstore", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &models.TransientServiceError{Service: "blobstore", Err: fmt.Errorf("GET %s returned %d", source, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &models.MalformedInputError{Path: source, Reason: fmt.Sprintf("source returned %d", resp.StatusCode)}
	}

	written, err := writeAtomic(destPath, resp.Body)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("source", source).
		Str("dest", destPath).
		Int64("bytes", written).
		Msg("Downloaded source document")
	return nil
}

func (s *Service) uploadHTTP(ctx context.Context, localPath, dest string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload source: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, f)
	if err != nil {
		return &models.MalformedInputError{Path: dest, Reason: err.Error()}
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "text/markdown; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return &models.TransientServiceError{Service: "blobstore", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &models.TransientServiceError{Service: "blobstore", Err: fmt.Errorf("PUT %s returned %d", dest, resp.StatusCode)}
	}

	s.logger.Debug().
		Str("dest", dest).
		Int64("bytes", info.Size()).
		Msg("Uploaded result document")
	return nil
}

func (s *Service) copyLocal(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.MalformedInputError{Path: srcPath, Reason: "file does not exist"}
		}
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	written, err := writeAtomic(destPath, src)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("source", srcPath).
		Str("dest", destPath).
		Int64("bytes", written).
		Msg("Copied local file")
	return nil
}

// writeAtomic streams r into path via a sibling temp file and rename.
func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".verso-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("finalize %s: %w", path, err)
	}
	return written, nil
}

func scheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(ref[:idx])
}
