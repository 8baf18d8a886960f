package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job is a delayed HTTP callback
type Job struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
	Retries  int             `json:"retries"`
	Attempts int             `json:"attempts"`
	DueAt    time.Time       `json:"due_at"`
}

// Client defines the interface for delay-queue operations
type Client interface {
	// Publish schedules body to be POSTed to url after delay. retries bounds
	// redelivery when the callback fails.
	Publish(ctx context.Context, url string, body []byte, delay time.Duration, retries int) (string, error)

	// Durable reports whether scheduled jobs survive a process restart
	Durable() bool

	// Close closes the queue connection
	Close() error

	// Health checks if the queue is healthy
	Health(ctx context.Context) error
}

// PublishJSON marshals payload and publishes it
func PublishJSON(ctx context.Context, c Client, url string, payload interface{}, delay time.Duration, retries int) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.Publish(ctx, url, body, delay, retries)
}
