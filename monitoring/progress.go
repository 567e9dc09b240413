package monitoring

import (
	"encoding/json"
	"sync"
	"time"
)

// A ProgressBar tracks how many units of a workload (erase cycles, pages,
// iterations) have been processed.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress marks amount units as started.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFinished marks amount units as done without them having been
// started.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// MoveInProgressToFinished marks amount started units as done.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	if amount > b.InProgress {
		amount = b.InProgress
	}

	b.InProgress -= amount
	b.Finished += amount
}

// Fraction returns the finished share of the total, between 0 and 1.
func (b *ProgressBar) Fraction() float64 {
	b.Lock()
	defer b.Unlock()

	if b.Total == 0 {
		return 1
	}

	f := float64(b.Finished) / float64(b.Total)
	if f > 1 {
		return 1
	}

	return f
}

// Done tells if every unit has finished.
func (b *ProgressBar) Done() bool {
	b.Lock()
	defer b.Unlock()

	return b.Finished >= b.Total
}

// MarshalJSON encodes the bar while holding its lock.
func (b *ProgressBar) MarshalJSON() ([]byte, error) {
	b.Lock()
	defer b.Unlock()

	type plain struct {
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		StartTime  time.Time `json:"start_time"`
		Total      uint64    `json:"total"`
		Finished   uint64    `json:"finished"`
		InProgress uint64    `json:"in_progress"`
	}

	return json.Marshal(plain{
		ID:         b.ID,
		Name:       b.Name,
		StartTime:  b.StartTime,
		Total:      b.Total,
		Finished:   b.Finished,
		InProgress: b.InProgress,
	})
}
