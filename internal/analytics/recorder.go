// Package analytics reports completed autofill runs to the job board.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one usage report.
const DefaultTimeout = 5 * time.Second

const usagePath = "/api/extension/usage"

// Usage is the body of a usage report.
type Usage struct {
	PageURL      string `json:"pageUrl"`
	FieldsFilled int    `json:"fieldsFilled"`
	Platform     string `json:"platform,omitempty"`
	RunID        string `json:"runId,omitempty"`
}

// Recorder sends usage reports in the background. Failures are logged and
// never surface to the caller.
type Recorder struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration

	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder for the job board at baseURL. An empty
// baseURL yields a recorder that drops every report.
func NewRecorder(baseURL, token string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{},
		Timeout:    DefaultTimeout,
		logger:     logger.With().Str("component", "analytics").Logger(),
	}
}

// Record reports pageURL and the number of fields filled without blocking.
func (r *Recorder) Record(pageURL string, filled int) {
	r.RecordUsage(Usage{PageURL: pageURL, FieldsFilled: filled})
}

// RecordUsage sends u in the background.
func (r *Recorder) RecordUsage(u Usage) {
	if r == nil || r.BaseURL == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.send(context.Background(), u); err != nil {
			r.logger.Warn().Err(err).Str("page_url", u.PageURL).Msg("usage report failed")
			return
		}
		r.logger.Debug().Str("page_url", u.PageURL).Int("filled", u.FieldsFilled).Msg("usage recorded")
	}()
}

// Wait blocks until every report in flight has finished.
func (r *Recorder) Wait() {
	if r != nil {
		r.wg.Wait()
	}
}

func (r *Recorder) send(ctx context.Context, u Usage) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+usagePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	return nil
}
