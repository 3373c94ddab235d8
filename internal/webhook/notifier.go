// Package webhook delivers best-effort completion callbacks. Delivery
// is decoupled from the worker that produced the terminal state and its
// outcome never feeds back into the job record.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ifcsplit/internal/domain"
)

// Payload is the body POSTed to the callback URL.
type Payload struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	Error           *domain.JobError `json:"error"`
	OutputReference string           `json:"output_reference"`
	CreatedAt       time.Time        `json:"created_at"`
}

type Notifier struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewNotifier(maxAttempts int, initialBackoff, maxBackoff, requestTimeout time.Duration) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Notifier{
		client:         &http.Client{Timeout: requestTimeout},
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// ValidateURL checks that a callback URL is well formed at submission
// time. The URL is not dereferenced until the job is terminal.
func ValidateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid callback_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid callback_url: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid callback_url: missing host")
	}
	return nil
}

// Notify launches delivery in its own goroutine and returns
// immediately so the caller's worker slot is never held.
func (n *Notifier) Notify(job domain.Job) {
	if job.CallbackURL == "" {
		return
	}
	go n.deliver(job)
}

func (n *Notifier) deliver(job domain.Job) {
	payload := Payload{
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
	}
	if job.Status == domain.StatusCompleted {
		payload.OutputReference = "/api/v1/jobs/" + job.ID + "/download"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("webhook marshal", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}

	logger := slog.With(
		slog.String("job_id", job.ID),
		slog.String("callback_url", job.CallbackURL),
	)

	interval := n.initialBackoff
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if n.post(job.CallbackURL, body) {
			logger.Info("webhook delivered", slog.Int("attempt", attempt))
			return
		}

		if attempt < n.maxAttempts {
			time.Sleep(interval)
			interval *= 2
			if interval > n.maxBackoff {
				interval = n.maxBackoff
			}
		}
	}

	logger.Warn("webhook abandoned", slog.Int("attempts", n.maxAttempts))
}

func (n *Notifier) post(callbackURL string, body []byte) bool {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		slog.Warn("webhook request", slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("webhook post", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
