// Package export delivers completed grading results to an external sink.
// Export failures never invalidate a grading result; the pipeline records
// them as soft failures.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Sink receives a completed submission result.
type Sink interface {
	Export(ctx context.Context, sub *types.Submission, result *types.SubmissionResult) error
}

// =============================================================================
// WEBHOOK SINK
// =============================================================================

// WebhookSink POSTs results to a configured URL with bounded retry.
type WebhookSink struct {
	url        string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewWebhookSink creates a sink for the URL. Timeout bounds one delivery
// attempt.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   3,
		backoff:    500 * time.Millisecond,
	}
}

type payload struct {
	SubmissionID string             `json:"submission_id"`
	AssignmentID string             `json:"external_assignment_id"`
	UserID       string             `json:"external_user_id"`
	Username     string             `json:"username"`
	Status       string             `json:"status"`
	FinalScore   float64            `json:"final_score"`
	ResultTree   *types.ResultTree  `json:"result_tree,omitempty"`
	Feedback     string             `json:"feedback,omitempty"`
	ExportedAt   time.Time          `json:"exported_at"`
}

// Export delivers the result, retrying transient failures with backoff. A 4xx
// response is not retried; the sink rejected the payload and will keep doing
// so.
func (s *WebhookSink) Export(ctx context.Context, sub *types.Submission, result *types.SubmissionResult) error {
	body, err := json.Marshal(payload{
		SubmissionID: sub.ID,
		AssignmentID: sub.AssignmentID,
		UserID:       sub.UserID,
		Username:     sub.Username,
		Status:       string(sub.Status),
		FinalScore:   result.FinalScore,
		ResultTree:   result.ResultTree,
		Feedback:     result.Feedback,
		ExportedAt:   time.Now().UTC(),
	})
	if err != nil {
		return types.E(types.KindExportFailed, "result is not serializable: %v", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = s.deliver(ctx, body)
		if lastErr == nil {
			logging.Export("exported %s to %s (attempt %d)", sub.ID, s.url, attempt)
			return nil
		}
		if permanent, ok := lastErr.(*permanentError); ok {
			return types.E(types.KindExportFailed, "sink rejected result for %s: %v", sub.ID, permanent.err)
		}
		logging.Export("export attempt %d/%d for %s failed: %v", attempt, s.attempts, sub.ID, lastErr)
		if attempt == s.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return types.E(types.KindExportFailed, "export cancelled: %v", ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return types.E(types.KindExportFailed, "export failed after %d attempts: %v", s.attempts, lastErr)
}

func (s *WebhookSink) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err = fmt.Errorf("sink returned %d: %s", resp.StatusCode, string(data))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &permanentError{err: err}
	}
	return err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
