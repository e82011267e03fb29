// Package sweep clears stale schedule dates: a task planned for a day that
// has passed is returned to the unscheduled pool instead of lingering on a
// "today" view it can never appear in again.
package sweep

import (
	"sync"
	"time"

	"github.com/screentask/screentask/internal/engine"
	"github.com/screentask/screentask/internal/models"
)

// Sweeper runs the staleness pass at most once per local calendar date per
// process. The last-run marker is in memory only, so a restarted process
// sweeps again on its first pass, which is harmless: the pass is idempotent.
type Sweeper struct {
	now func() time.Time

	mu      sync.Mutex
	lastRun string
}

// New creates a sweeper backed by the wall clock.
func New() *Sweeper {
	return NewWithTime(time.Now)
}

// NewWithTime creates a sweeper with an injected time source, for tests.
func NewWithTime(now func() time.Time) *Sweeper {
	return &Sweeper{now: now}
}

// Run clears scheduledDate on incomplete tasks whose date is strictly before
// today. Completed tasks are never touched. The returned changes contain only
// the records whose scheduledDate actually changed; the boolean reports
// whether the pass ran at all (false when it already ran today).
func (s *Sweeper) Run(col []models.Task) ([]models.Task, engine.Changes, bool) {
	today := s.now().Format(engine.DateLayout)

	s.mu.Lock()
	if s.lastRun == today {
		s.mu.Unlock()
		return col, engine.Changes{}, false
	}
	s.lastRun = today
	s.mu.Unlock()

	next := make([]models.Task, len(col))
	copy(next, col)

	var changes engine.Changes
	for i := range next {
		if next[i].Completed || next[i].ScheduledDate == "" {
			continue
		}
		if next[i].ScheduledDate < today {
			next[i].ScheduledDate = ""
			changes.Upserts = append(changes.Upserts, next[i])
		}
	}
	return next, changes, true
}
