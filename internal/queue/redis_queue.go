package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
)

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL       string
	QueueName string
}

// claimScript moves due jobs from the delayed set to the processing set with
// a visibility deadline. KEYS: delayed, processing. ARGV: now, limit, deadline.
var claimScript = redis.NewScript(`
	local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
	for _, id in ipairs(ids) do
		redis.call("zrem", KEYS[1], id)
		redis.call("zadd", KEYS[2], ARGV[3], id)
	end
	return ids
`)

// reapScript returns expired claims to the delayed set.
// KEYS: processing, delayed. ARGV: now.
var reapScript = redis.NewScript(`
	local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
	for _, id in ipairs(ids) do
		redis.call("zrem", KEYS[1], id)
		redis.call("zadd", KEYS[2], ARGV[1], id)
	end
	return #ids
`)

// RedisQueue is a durable delay queue on a Redis sorted set
type RedisQueue struct {
	client     *redis.Client
	delayed    string
	processing string
	jobs       string
	dead       string
	now        func() time.Time
	logger     *slog.Logger
}

// NewRedisQueue connects to Redis and creates a delay queue
func NewRedisQueue(cfg RedisConfig, logger *slog.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		slog.String("addr", opts.Addr),
		slog.String("queue", cfg.QueueName),
	)

	return NewRedisQueueWithClient(client, cfg.QueueName, logger), nil
}

// NewRedisQueueWithClient creates a delay queue on an existing client
func NewRedisQueueWithClient(client *redis.Client, name string, logger *slog.Logger) *RedisQueue {
	prefix := "queue:" + name + ":"
	return &RedisQueue{
		client:     client,
		delayed:    prefix + "delayed",
		processing: prefix + "processing",
		jobs:       prefix + "jobs",
		dead:       prefix + "dead",
		now:        time.Now,
		logger:     logger,
	}
}

// Redis exposes the underlying client so other components can share it
func (q *RedisQueue) Redis() *redis.Client {
	return q.client
}

// Publish schedules a callback job
func (q *RedisQueue) Publish(ctx context.Context, url string, body []byte, delay time.Duration, retries int) (string, error) {
	if delay < 0 {
		delay = 0
	}

	job := &Job{
		ID:      uuid.NewString(),
		URL:     url,
		Body:    json.RawMessage(body),
		Retries: retries,
		DueAt:   q.now().Add(delay),
	}

	if err := q.schedule(ctx, job); err != nil {
		return "", err
	}

	metrics.QueuePublishedTotal.WithLabelValues("redis").Inc()
	q.logger.Debug("job published to queue",
		slog.String("job_id", job.ID),
		slog.String("url", url),
		slog.Duration("delay", delay),
	)

	return job.ID, nil
}

func (q *RedisQueue) schedule(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobs, job.ID, data)
		pipe.ZRem(ctx, q.processing, job.ID)
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(job.DueAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	return nil
}

// Claim takes up to limit due jobs and hides them for visibility
func (q *RedisQueue) Claim(ctx context.Context, limit int, visibility time.Duration) ([]*Job, error) {
	now := q.now()
	ids, err := claimScript.Run(ctx, q.client, []string{q.delayed, q.processing},
		now.UnixMilli(), limit, now.Add(visibility).UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := q.client.HMGet(ctx, q.jobs, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			q.logger.Warn("claimed job has no payload", slog.String("job_id", ids[i]))
			q.client.ZRem(ctx, q.processing, ids[i])
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Error("failed to unmarshal job",
				slog.String("job_id", ids[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// Ack removes a finished job
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processing, id)
		pipe.HDel(ctx, q.jobs, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Retry reschedules a failed job after delay
func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.Attempts++
	job.DueAt = q.now().Add(delay)
	return q.schedule(ctx, job)
}

// Bury moves a job that exhausted its retries to the dead list
func (q *RedisQueue) Bury(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.dead, data)
		pipe.LTrim(ctx, q.dead, 0, 999)
		pipe.ZRem(ctx, q.processing, job.ID)
		pipe.HDel(ctx, q.jobs, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bury job: %w", err)
	}
	return nil
}

// Reap returns claims whose visibility deadline passed
func (q *RedisQueue) Reap(ctx context.Context) (int64, error) {
	n, err := reapScript.Run(ctx, q.client, []string{q.processing, q.delayed},
		strconv.FormatInt(q.now().UnixMilli(), 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reap jobs: %w", err)
	}
	return n, nil
}

// Pending returns the number of scheduled jobs (for monitoring)
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.delayed).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

// Durable reports true, jobs live in Redis
func (q *RedisQueue) Durable() bool {
	return true
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	q.logger.Info("closing Redis connection")
	return q.client.Close()
}

// Health checks if Redis is healthy
func (q *RedisQueue) Health(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis health check failed: %w", err)
	}
	return nil
}
