package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voxbridge/voxbridge/internal/store"
)

// Notifier delivers job completion webhooks. Delivery is best-effort: one
// POST, no retries. Undelivered callbacks stay visible via the job's
// callback_sent flag.
type Notifier struct {
	client *http.Client
}

// NewNotifier builds a Notifier. client may be nil for a default with a
// 10-second timeout.
func NewNotifier(client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{client: client}
}

// callbackPayload is the webhook body.
type callbackPayload struct {
	JobID       string          `json:"jobId"`
	Type        store.JobType   `json:"type"`
	Status      store.JobStatus `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Notify POSTs the job's terminal state to its callback URL. Any non-2xx
// response is an error.
func (n *Notifier) Notify(ctx context.Context, job *store.Job) error {
	payload := callbackPayload{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Error:       job.ErrorMessage,
		CompletedAt: time.Now().UTC(),
	}
	if len(job.Output) > 0 {
		payload.Result = job.Output
	}
	if job.CompletedAt != nil {
		payload.CompletedAt = *job.CompletedAt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: encode callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("jobs: build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("jobs: deliver callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("jobs: callback returned %d", resp.StatusCode)
	}
	return nil
}
