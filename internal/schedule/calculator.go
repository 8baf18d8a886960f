// Package schedule computes per-message send offsets and the time-window
// rules used while a campaign is dispatching.
package schedule

import "math/rand"

// Delay floors applied to user supplied values
const (
	MinDelayFloor = 10
	MaxDelayFloor = 60

	// BulkPauseEvery is the message interval after which a long pause is inserted
	BulkPauseEvery = 30
)

// BulkPauses are the escalating long pauses in seconds. The last value repeats.
var BulkPauses = []int{1800, 3600, 5400}

// Rand is the random source used for jitter
type Rand interface {
	Intn(n int) int
}

// Options configures schedule computation
type Options struct {
	DelayMin     int
	DelayMax     int
	PauseAfter   int
	PauseSeconds int
}

// Schedule holds the cumulative offset of every message in input order
type Schedule struct {
	Offsets           []int `json:"offsets"`
	EstimatedDuration int   `json:"estimated_duration"`
}

// Calculator assigns cumulative send offsets to a recipient list
type Calculator struct {
	rng Rand
}

// NewCalculator creates a calculator. A nil source falls back to math/rand.
func NewCalculator(rng Rand) *Calculator {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Calculator{rng: rng}
}

// ClampDelays enforces the delay floors and keeps max >= min
func ClampDelays(delayMin, delayMax int) (int, int) {
	if delayMin < MinDelayFloor {
		delayMin = MinDelayFloor
	}
	if delayMax < MaxDelayFloor {
		delayMax = MaxDelayFloor
	}
	if delayMax < delayMin {
		delayMax = delayMin
	}
	return delayMin, delayMax
}

// Compute returns offsets for count messages. Offsets are non-decreasing and
// the last offset equals the estimated duration.
func (c *Calculator) Compute(count int, opts Options) Schedule {
	if count <= 0 {
		return Schedule{Offsets: []int{}}
	}

	offsets := make([]int, count)
	cumulative := 0
	bulkPausesTaken := 0

	for i := 1; i <= count; i++ {
		cumulative += c.jitter(opts.DelayMin, opts.DelayMax)
		last := i == count

		bulkFired := false
		if i%BulkPauseEvery == 0 && !last {
			cumulative += bulkPause(bulkPausesTaken)
			bulkPausesTaken++
			bulkFired = true
		}

		if opts.PauseAfter > 0 && opts.PauseSeconds > 0 && i%opts.PauseAfter == 0 && !last && !bulkFired {
			cumulative += opts.PauseSeconds
		}

		offsets[i-1] = cumulative
	}

	return Schedule{Offsets: offsets, EstimatedDuration: cumulative}
}

func (c *Calculator) jitter(delayMin, delayMax int) int {
	if delayMax <= delayMin {
		return delayMin
	}
	return delayMin + c.rng.Intn(delayMax-delayMin+1)
}

func bulkPause(taken int) int {
	if taken >= len(BulkPauses) {
		return BulkPauses[len(BulkPauses)-1]
	}
	return BulkPauses[taken]
}
