package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
)

// LocalQueue delivers callbacks from in-process timers. Jobs are lost on
// restart, so it is only wired in dev mode.
type LocalQueue struct {
	deliverer *Deliverer
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewLocalQueue creates an in-memory timer queue
func NewLocalQueue(deliverer *Deliverer, logger *slog.Logger) *LocalQueue {
	return &LocalQueue{
		deliverer: deliverer,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
	}
}

// Publish schedules the callback on a timer
func (q *LocalQueue) Publish(ctx context.Context, url string, body []byte, delay time.Duration, retries int) (string, error) {
	if delay < 0 {
		delay = 0
	}
	job := &Job{
		ID:      uuid.NewString(),
		URL:     url,
		Body:    json.RawMessage(body),
		Retries: retries,
		DueAt:   time.Now().Add(delay),
	}

	q.arm(job, delay)
	metrics.QueuePublishedTotal.WithLabelValues("local").Inc()

	return job.ID, nil
}

func (q *LocalQueue) arm(job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timers[job.ID] = time.AfterFunc(delay, func() { q.fire(job) })
}

func (q *LocalQueue) fire(job *Job) {
	q.mu.Lock()
	delete(q.timers, job.ID)
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := q.deliverer.Deliver(ctx, job)
	if err == nil {
		metrics.QueueDeliveriesTotal.WithLabelValues("ok").Inc()
		return
	}

	if job.Attempts < job.Retries {
		job.Attempts++
		metrics.QueueDeliveriesTotal.WithLabelValues("retry").Inc()
		q.logger.Warn("local job delivery failed, will retry",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.String("error", err.Error()),
		)
		q.arm(job, retryDelay(job.Attempts))
		return
	}

	metrics.QueueDeliveriesTotal.WithLabelValues("dead").Inc()
	q.logger.Error("local job delivery failed permanently",
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
}

// Durable reports false, timers do not survive restarts
func (q *LocalQueue) Durable() bool {
	return false
}

// Close stops all pending timers
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	return nil
}

// Health always succeeds for the in-process queue
func (q *LocalQueue) Health(ctx context.Context) error {
	return nil
}
