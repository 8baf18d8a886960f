package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/queue"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
)

// Config controls dispatch pacing
type Config struct {
	BatchSize           int
	LeaseTTL            time.Duration
	FailureRequeueDelay time.Duration
	LookAheadPadding    time.Duration
	MaxStartJitter      int
	LeaseRetryDelay     time.Duration
	ClaimStaleAfter     time.Duration
	Location            *time.Location
}

// DefaultConfig returns the production pacing values
func DefaultConfig() Config {
	return Config{
		BatchSize:           5,
		LeaseTTL:            3 * time.Hour,
		FailureRequeueDelay: 5 * time.Second,
		LookAheadPadding:    10 * time.Second,
		MaxStartJitter:      2,
		LeaseRetryDelay:     15 * time.Minute,
		ClaimStaleAfter:     5 * time.Minute,
		Location:            time.UTC,
	}
}

// Renderer substitutes recipient variables and resolves spintax
type Renderer interface {
	Render(template string, vars map[string]string) string
	Spin(text string) string
}

// Callbacks are the public URLs the delay queue POSTs to
type Callbacks struct {
	BatchURL   string
	MessageURL string
}

// Enqueuer publishes advancer and dispatcher jobs
type Enqueuer struct {
	queue     queue.Client
	callbacks Callbacks
	retries   int
}

// NewEnqueuer creates an enqueuer
func NewEnqueuer(q queue.Client, callbacks Callbacks, retries int) *Enqueuer {
	return &Enqueuer{queue: q, callbacks: callbacks, retries: retries}
}

// EnqueueBatch schedules a batch advancer run
func (e *Enqueuer) EnqueueBatch(ctx context.Context, job models.BatchJob, delay time.Duration) (string, error) {
	return queue.PublishJSON(ctx, e.queue, e.callbacks.BatchURL, job, delay, e.retries)
}

// EnqueueMessage schedules a single message dispatch
func (e *Enqueuer) EnqueueMessage(ctx context.Context, job models.MessageJob, delay time.Duration) (string, error) {
	return queue.PublishJSON(ctx, e.queue, e.callbacks.MessageURL, job, delay, e.retries)
}

// Durable reports whether scheduled jobs survive restarts
func (e *Enqueuer) Durable() bool {
	return e.queue.Durable()
}

// SystemClock returns wall time in loc
func SystemClock(loc *time.Location) func() time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a goroutine-safe random source
func NewRand(seed int64) schedule.Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}
