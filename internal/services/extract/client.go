// -----------------------------------------------------------------------
// Extraction Client - Submits PDFs to the table/text extraction service
// and polls the job handle until a terminal status
// -----------------------------------------------------------------------

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// Client talks to the extraction collaborator. The service is a black
// box: submit a PDF, receive a job handle, poll until DONE or FAILED.
// Network failures and 5xx responses are transient; the service reporting
// FAILED for the document is not.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	client       *http.Client
	logger       arbor.ILogger
}

// NewClient creates an extraction client.
func NewClient(baseURL string, pollInterval, timeout time.Duration, logger arbor.ILogger) *Client {
	return &Client{
		baseURL:      baseURL,
		pollInterval: pollInterval,
		timeout:      timeout,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit uploads the PDF and returns the service's job handle. Submitting
// the same document twice creates two independent extraction jobs, so
// callers must record the handle durably before relying on it.
func (c *Client) Submit(ctx context.Context, pdfPath string) (string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("open PDF for submission: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("document", filepath.Base(pdfPath))
	if err != nil {
		return "", fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read PDF: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extractions", &body)
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &models.TransientServiceError{Service: "extraction", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", &models.TransientServiceError{Service: "extraction", Err: fmt.Errorf("submit returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("extraction submit rejected with status %d", resp.StatusCode)
	}

	var submitted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if submitted.ID == "" {
		return "", fmt.Errorf("extraction submit returned no job handle")
	}

	c.logger.Info().Str("handle", submitted.ID).Str("pdf", pdfPath).Msg("Extraction job submitted")
	return submitted.ID, nil
}

// Poll fetches the current status of an extraction job handle.
func (c *Client) Poll(ctx context.Context, handle string) (*models.ExtractionPoll, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/extractions/"+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.TransientServiceError{Service: "extraction", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &models.TransientServiceError{Service: "extraction", Err: fmt.Errorf("poll returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction poll rejected with status %d", resp.StatusCode)
	}

	var poll models.ExtractionPoll
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return &poll, nil
}

// WaitForResult polls until the job reaches a terminal status or the
// overall deadline expires. Transient poll failures are tolerated and
// retried on the next tick; only the deadline or a terminal FAILED stops
// the loop.
func (c *Client) WaitForResult(ctx context.Context, handle string) (*models.RawResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		poll, err := c.Poll(ctx, handle)
		if err != nil {
			var transient *models.TransientServiceError
			if !errors.As(err, &transient) {
				return nil, err
			}
			c.logger.Warn().Str("handle", handle).Err(err).Msg("Extraction poll failed, will retry")
		} else {
			switch poll.Status {
			case models.ExtractionDone:
				if poll.Result == nil {
					return nil, &models.PartialExtractionError{Missing: "result payload"}
				}
				return poll.Result, nil
			case models.ExtractionFailed:
				return nil, fmt.Errorf("extraction service failed: %s", poll.Detail)
			case models.ExtractionPending:
				c.logger.Debug().Str("handle", handle).Msg("Extraction pending")
			default:
				return nil, fmt.Errorf("extraction returned unknown status %q", poll.Status)
			}
		}

		select {
		case <-ctx.Done():
			return nil, &models.TransientServiceError{Service: "extraction", Err: fmt.Errorf("timed out waiting for handle %s: %w", handle, ctx.Err())}
		case <-ticker.C:
		}
	}
}
