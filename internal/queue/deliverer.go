package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deliverer POSTs job bodies to their callback URL with a signature
type Deliverer struct {
	client HTTPDoer
	secret string
	now    func() time.Time
	logger *slog.Logger
}

// NewDeliverer creates a callback deliverer. A nil client uses a 30s timeout.
func NewDeliverer(client HTTPDoer, secret string, logger *slog.Logger) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Deliverer{
		client: client,
		secret: secret,
		now:    time.Now,
		logger: logger,
	}
}

// Deliver performs one delivery attempt. Any non-2xx status is an error.
func (d *Deliverer) Deliver(ctx context.Context, job *Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(job.Body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}

	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(d.secret, timestamp, job.Body))
	req.Header.Set(HeaderJobID, job.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(job.Attempts+1))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	d.logger.Debug("job delivered",
		slog.String("job_id", job.ID),
		slog.String("url", job.URL),
		slog.Int("attempt", job.Attempts+1),
	)
	return nil
}

// retryDelay is the exponential redelivery backoff, capped at five minutes
func retryDelay(attempt int) time.Duration {
	delay := 5 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return delay
}
