package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/screentask/screentask/internal/models"
)

// subOrderStep is the spacing between order values assigned to members of a
// block created in a single operation (a parent and its extracted subtasks,
// or a multi-text add). It is far below clock resolution so a whole block
// still sorts ahead of everything created earlier.
const subOrderStep = 0.001

// OrderClock hands out strictly increasing order values derived from the
// wall clock (unix milliseconds with sub-millisecond resolution). Values are
// guaranteed to exceed everything the clock handed out before, so a freshly
// created task always sorts ahead of older ones.
type OrderClock struct {
	mu   sync.Mutex
	last float64
}

// NewOrderClock creates an order clock.
func NewOrderClock() *OrderClock {
	return &OrderClock{}
}

// Next returns an order value greater than every value handed out before.
func (c *OrderClock) Next() float64 {
	return c.Reserve(1)
}

// Reserve returns a base value for a block of n items. Every derived value
// base - i*subOrderStep for i < n is still greater than anything handed out
// by earlier calls.
func (c *OrderClock) Reserve(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := float64(time.Now().UnixMicro()) / 1000.0
	floor := c.last + float64(n)*subOrderStep
	if v <= floor {
		v = floor + 1
	}
	c.last = v
	return v
}

// before is the canonical comparator: higher effective order first (newest
// first), then newer creation time, then id for determinism.
func before(a, b models.Task) bool {
	ao, bo := a.EffectiveOrder(), b.EffectiveOrder()
	if ao != bo {
		return ao > bo
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

func sortTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return before(tasks[i], tasks[j])
	})
}

// Normalize materializes the canonical flat order of a collection: top-level
// tasks sorted by the canonical comparator, each immediately followed by its
// subtasks (also sorted), so blocks are always contiguous. Subtasks whose
// parent is missing from the collection are appended after all blocks.
// Contiguity is derived from parentId here, never read back from physical
// adjacency.
func Normalize(col []models.Task) []models.Task {
	if len(col) == 0 {
		return col
	}

	parents := make(map[string]bool, len(col))
	for _, t := range col {
		if !t.IsSubtask() {
			parents[t.ID] = true
		}
	}

	var top []models.Task
	children := make(map[string][]models.Task)
	var orphans []models.Task
	for _, t := range col {
		switch {
		case !t.IsSubtask():
			top = append(top, t)
		case parents[t.ParentID]:
			children[t.ParentID] = append(children[t.ParentID], t)
		default:
			orphans = append(orphans, t)
		}
	}

	sortTasks(top)
	sortTasks(orphans)

	out := make([]models.Task, 0, len(col))
	for _, p := range top {
		out = append(out, p)
		kids := children[p.ID]
		sortTasks(kids)
		out = append(out, kids...)
	}
	return append(out, orphans...)
}

// ChildrenOf returns the subtasks of the given parent, preserving the order
// of the collection as passed in.
func ChildrenOf(col []models.Task, parentID string) []models.Task {
	var out []models.Task
	for _, t := range col {
		if t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out
}

// TopLevel returns the tasks with no parent, preserving collection order.
func TopLevel(col []models.Task) []models.Task {
	var out []models.Task
	for _, t := range col {
		if !t.IsSubtask() {
			out = append(out, t)
		}
	}
	return out
}

// PartitionByCompletion splits the top-level tasks into (active, completed),
// preserving collection order.
func PartitionByCompletion(col []models.Task) (active, completed []models.Task) {
	for _, t := range col {
		if t.IsSubtask() {
			continue
		}
		if t.Completed {
			completed = append(completed, t)
		} else {
			active = append(active, t)
		}
	}
	return active, completed
}

// TodayOrPriority returns the top-level incomplete tasks scheduled for the
// given date or marked as the frog, with the frog first and collection order
// otherwise preserved.
func TodayOrPriority(col []models.Task, today string) []models.Task {
	var frogs, rest []models.Task
	for _, t := range col {
		if t.IsSubtask() || t.Completed {
			continue
		}
		switch {
		case t.IsFrog:
			frogs = append(frogs, t)
		case t.ScheduledDate == today:
			rest = append(rest, t)
		}
	}
	return append(frogs, rest...)
}
