package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
)

// PollerConfig controls how due jobs are claimed and delivered
type PollerConfig struct {
	Interval          time.Duration
	BatchSize         int
	Concurrency       int
	VisibilityTimeout time.Duration
}

// Poller claims due jobs from a RedisQueue and delivers them
type Poller struct {
	queue     *RedisQueue
	deliverer *Deliverer
	cfg       PollerConfig
	logger    *slog.Logger
}

// NewPoller creates a poller, filling unset config with defaults
func NewPoller(queue *RedisQueue, deliverer *Deliverer, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 2 * time.Minute
	}
	return &Poller{
		queue:     queue,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight deliveries
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting queue poller",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("concurrency", p.cfg.Concurrency),
	)

	semaphore := make(chan struct{}, p.cfg.Concurrency)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped by context, waiting for in-flight jobs to complete")
			for i := 0; i < p.cfg.Concurrency; i++ {
				semaphore <- struct{}{}
			}
			p.logger.Info("all in-flight jobs completed")
			return ctx.Err()

		case <-ticker.C:
			p.PollOnce(ctx, semaphore)
		}
	}
}

// PollOnce reaps expired claims and dispatches one batch of due jobs
func (p *Poller) PollOnce(ctx context.Context, semaphore chan struct{}) {
	if n, err := p.queue.Reap(ctx); err != nil {
		p.logger.Error("failed to reap jobs", slog.String("error", err.Error()))
	} else if n > 0 {
		metrics.QueueReapedTotal.Add(float64(n))
		p.logger.Warn("re-queued expired jobs", slog.Int64("count", n))
	}

	jobs, err := p.queue.Claim(ctx, p.cfg.BatchSize, p.cfg.VisibilityTimeout)
	if err != nil {
		p.logger.Error("failed to claim jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range jobs {
		semaphore <- struct{}{}
		go func(job *Job) {
			defer func() { <-semaphore }()
			p.handle(ctx, job)
		}(job)
	}
}

func (p *Poller) handle(ctx context.Context, job *Job) {
	err := p.deliverer.Deliver(ctx, job)
	if err == nil {
		metrics.QueueDeliveriesTotal.WithLabelValues("ok").Inc()
		if err := p.queue.Ack(ctx, job.ID); err != nil {
			p.logger.Error("failed to ack job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if job.Attempts < job.Retries {
		delay := retryDelay(job.Attempts + 1)
		metrics.QueueDeliveriesTotal.WithLabelValues("retry").Inc()
		p.logger.Warn("job delivery failed, will retry",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts+1),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		if err := p.queue.Retry(ctx, job, delay); err != nil {
			p.logger.Error("failed to reschedule job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	metrics.QueueDeliveriesTotal.WithLabelValues("dead").Inc()
	p.logger.Error("job delivery failed permanently",
		slog.String("job_id", job.ID),
		slog.String("url", job.URL),
		slog.Int("attempts", job.Attempts+1),
		slog.String("error", err.Error()),
	)
	if err := p.queue.Bury(ctx, job); err != nil {
		p.logger.Error("failed to bury job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
