package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/screentask/screentask/internal/models"
)

// DateLayout is the calendar date format used by scheduledDate.
const DateLayout = "2006-01-02"

// Changes is the explicit output of a mutation: the records whose persisted
// representation must be rewritten remotely, and the ids to delete. It is an
// explicit output rather than a diff because a diff cannot recover intent for
// bulk inserts.
type Changes struct {
	Upserts []models.Task
	Deletes []string
}

// Empty reports whether the mutation changed nothing.
func (c Changes) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0
}

// Engine applies task mutations. Every operation is a total function over a
// well-formed collection: unknown ids and blank text are no-ops, and business
// rules (frog uniqueness, cascades, block contiguity) are enforced by
// construction rather than validated and rejected. Operations never modify
// the input collection; they return the next collection in canonical order
// together with the changed set.
type Engine struct {
	clock *OrderClock
	now   func() time.Time
}

// New creates an engine backed by the wall clock.
func New() *Engine {
	return NewWithTime(NewOrderClock(), time.Now)
}

// NewWithTime creates an engine with injected time sources, for tests.
func NewWithTime(clock *OrderClock, now func() time.Time) *Engine {
	return &Engine{clock: clock, now: now}
}

// Today returns the engine's local calendar date string.
func (e *Engine) Today() string {
	return e.now().Format(DateLayout)
}

// Add creates one top-level task per non-blank text, inserted at the front of
// the collection with input order preserved (the first text becomes the
// frontmost task). Only the first created task carries the description.
func (e *Engine) Add(col []models.Task, p models.Partition, texts []string, description string) ([]models.Task, Changes) {
	var clean []string
	for _, t := range texts {
		if s := strings.TrimSpace(t); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return col, Changes{}
	}

	base := e.clock.Reserve(len(clean))
	now := e.now().UnixMilli()
	created := make([]models.Task, 0, len(clean))
	for i, text := range clean {
		t := models.Task{
			ID:        uuid.NewString(),
			UserID:    p.UserID,
			SpaceID:   p.SpaceID,
			Text:      text,
			CreatedAt: now,
		}
		t = t.WithOrder(base - float64(i)*subOrderStep)
		if i == 0 {
			t.Description = strings.TrimSpace(description)
		}
		created = append(created, t)
	}

	next := make([]models.Task, 0, len(col)+len(created))
	next = append(next, created...)
	next = append(next, col...)
	return Normalize(next), Changes{Upserts: created}
}

// AddFromExtraction creates one parent task with the given provenance label
// and one subtask per non-blank entry, inserted as a contiguous block at the
// front of the collection.
func (e *Engine) AddFromExtraction(col []models.Task, p models.Partition, source, mainTask string, subtasks []string) ([]models.Task, Changes) {
	mainTask = strings.TrimSpace(mainTask)
	if mainTask == "" {
		return col, Changes{}
	}
	var clean []string
	for _, s := range subtasks {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}

	base := e.clock.Reserve(1 + len(clean))
	now := e.now().UnixMilli()

	parent := models.Task{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		SpaceID:   p.SpaceID,
		Text:      mainTask,
		Source:    strings.TrimSpace(source),
		CreatedAt: now,
	}
	parent = parent.WithOrder(base)

	block := []models.Task{parent}
	for i, text := range clean {
		sub := models.Task{
			ID:        uuid.NewString(),
			UserID:    p.UserID,
			SpaceID:   p.SpaceID,
			Text:      text,
			ParentID:  parent.ID,
			CreatedAt: now,
		}
		sub = sub.WithOrder(base - float64(i+1)*subOrderStep)
		block = append(block, sub)
	}

	next := make([]models.Task, 0, len(col)+len(block))
	next = append(next, block...)
	next = append(next, col...)
	return Normalize(next), Changes{Upserts: block}
}

// Toggle flips completion on the target. Completing a top-level task cascades
// completion to its incomplete subtasks; completing a subtask affects nothing
// else, and un-completing never cascades in either direction.
func (e *Engine) Toggle(col []models.Task, id string) ([]models.Task, Changes) {
	idx := indexOf(col, id)
	if idx < 0 {
		return col, Changes{}
	}

	next := clone(col)
	next[idx].Completed = !next[idx].Completed
	changed := []models.Task{next[idx]}

	if !next[idx].IsSubtask() && next[idx].Completed {
		for i := range next {
			if next[i].ParentID == next[idx].ID && !next[i].Completed {
				next[i].Completed = true
				changed = append(changed, next[i])
			}
		}
	}
	return next, Changes{Upserts: changed}
}

// Delete removes the target. Deleting a top-level task removes its subtasks
// in the same operation; all removed ids are reported for remote deletion.
func (e *Engine) Delete(col []models.Task, id string) ([]models.Task, Changes) {
	idx := indexOf(col, id)
	if idx < 0 {
		return col, Changes{}
	}

	removed := map[string]bool{id: true}
	if !col[idx].IsSubtask() {
		for _, t := range col {
			if t.ParentID == id {
				removed[t.ID] = true
			}
		}
	}

	next := make([]models.Task, 0, len(col)-len(removed))
	deletes := make([]string, 0, len(removed))
	for _, t := range col {
		if removed[t.ID] {
			deletes = append(deletes, t.ID)
			continue
		}
		next = append(next, t)
	}
	return next, Changes{Deletes: deletes}
}

// EditText replaces the task's title. Text that is blank after trimming is a
// no-op.
func (e *Engine) EditText(col []models.Task, id, text string) ([]models.Task, Changes) {
	text = strings.TrimSpace(text)
	idx := indexOf(col, id)
	if idx < 0 || text == "" || col[idx].Text == text {
		return col, Changes{}
	}

	next := clone(col)
	next[idx].Text = text
	return next, Changes{Upserts: []models.Task{next[idx]}}
}

// EditDescription replaces the task's description; an empty string clears it.
func (e *Engine) EditDescription(col []models.Task, id, description string) ([]models.Task, Changes) {
	description = strings.TrimSpace(description)
	idx := indexOf(col, id)
	if idx < 0 || col[idx].Description == description {
		return col, Changes{}
	}

	next := clone(col)
	next[idx].Description = description
	return next, Changes{Upserts: []models.Task{next[idx]}}
}

// SetFrog toggles priority on the target top-level task. When the result is
// true, priority is cleared on every other top-level task in the same
// operation, so at most one frog exists at any time. Subtasks are never
// frogs.
func (e *Engine) SetFrog(col []models.Task, id string) ([]models.Task, Changes) {
	idx := indexOf(col, id)
	if idx < 0 || col[idx].IsSubtask() {
		return col, Changes{}
	}

	next := clone(col)
	next[idx].IsFrog = !next[idx].IsFrog
	changed := []models.Task{next[idx]}

	if next[idx].IsFrog {
		for i := range next {
			if i != idx && next[i].IsFrog {
				next[i].IsFrog = false
				changed = append(changed, next[i])
			}
		}
	}
	return next, Changes{Upserts: changed}
}

// ScheduleForToday plans the task for the local current date.
func (e *Engine) ScheduleForToday(col []models.Task, id string) ([]models.Task, Changes) {
	return e.SetScheduledDate(col, id, e.Today())
}

// SetScheduledDate assigns the task's schedule date; an empty string
// unschedules it.
func (e *Engine) SetScheduledDate(col []models.Task, id, date string) ([]models.Task, Changes) {
	idx := indexOf(col, id)
	if idx < 0 || col[idx].ScheduledDate == date {
		return col, Changes{}
	}

	next := clone(col)
	next[idx].ScheduledDate = date
	return next, Changes{Upserts: []models.Task{next[idx]}}
}

// AddSubtask creates a new subtask placed after the parent's existing
// subtasks, keeping the block contiguous. If the parent is not in the
// collection the subtask is appended at the end.
func (e *Engine) AddSubtask(col []models.Task, p models.Partition, parentID, text string) ([]models.Task, Changes) {
	text = strings.TrimSpace(text)
	if text == "" || parentID == "" {
		return col, Changes{}
	}

	sub := models.Task{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		SpaceID:   p.SpaceID,
		Text:      text,
		ParentID:  parentID,
		CreatedAt: e.now().UnixMilli(),
	}

	pIdx := indexOf(col, parentID)
	if pIdx >= 0 {
		sub.SpaceID = col[pIdx].SpaceID
		sub.UserID = col[pIdx].UserID
		// Below the last existing block member so it sorts after the
		// current siblings.
		min := col[pIdx].EffectiveOrder()
		for _, t := range col {
			if t.ParentID == parentID && t.EffectiveOrder() < min {
				min = t.EffectiveOrder()
			}
		}
		sub = sub.WithOrder(min - 1)
	} else {
		min := sub.EffectiveOrder()
		for _, t := range col {
			if t.EffectiveOrder() < min {
				min = t.EffectiveOrder()
			}
		}
		sub = sub.WithOrder(min - 1)
	}

	next := append(clone(col), sub)
	return Normalize(next), Changes{Upserts: []models.Task{sub}}
}

// Reorder moves the block headed by activeID's top-level ancestor to the
// position of the block headed by overID's top-level ancestor. Subtasks
// always travel with their parent. Order values for the entire collection are
// reassigned as dense ranks of the new flattened sequence, so the whole
// reordering is one bulk metadata write.
func (e *Engine) Reorder(col []models.Task, activeID, overID string) ([]models.Task, Changes) {
	if activeID == overID {
		return col, Changes{}
	}
	active, ok := topAncestor(col, activeID)
	if !ok {
		return col, Changes{}
	}
	over, ok := topAncestor(col, overID)
	if !ok || active == over {
		return col, Changes{}
	}

	blocks, heads := blockize(Normalize(col))
	from, to := -1, -1
	for i, h := range heads {
		if h == active {
			from = i
		}
		if h == over {
			to = i
		}
	}
	if from < 0 || to < 0 {
		return col, Changes{}
	}

	moved := blocks[from]
	blocks = append(blocks[:from], blocks[from+1:]...)
	if to > len(blocks) {
		to = len(blocks)
	}
	blocks = append(blocks[:to], append([][]models.Task{moved}, blocks[to:]...)...)

	var flat []models.Task
	for _, b := range blocks {
		flat = append(flat, b...)
	}

	n := len(flat)
	next := make([]models.Task, n)
	for i, t := range flat {
		next[i] = t.WithOrder(float64(n - 1 - i))
	}
	return next, Changes{Upserts: clone(next)}
}

// topAncestor resolves an id to the id of its top-level block head.
func topAncestor(col []models.Task, id string) (string, bool) {
	idx := indexOf(col, id)
	if idx < 0 {
		return "", false
	}
	if !col[idx].IsSubtask() {
		return col[idx].ID, true
	}
	pIdx := indexOf(col, col[idx].ParentID)
	if pIdx < 0 || col[pIdx].IsSubtask() {
		return "", false
	}
	return col[pIdx].ID, true
}

// blockize splits a canonically ordered collection into contiguous blocks and
// returns the head id of each block. Orphaned subtasks at the tail each form
// their own block.
func blockize(normalized []models.Task) ([][]models.Task, []string) {
	parents := make(map[string]bool, len(normalized))
	for _, t := range normalized {
		if !t.IsSubtask() {
			parents[t.ID] = true
		}
	}

	var blocks [][]models.Task
	var heads []string
	for _, t := range normalized {
		if !t.IsSubtask() || !parents[t.ParentID] {
			blocks = append(blocks, []models.Task{t})
			heads = append(heads, t.ID)
			continue
		}
		blocks[len(blocks)-1] = append(blocks[len(blocks)-1], t)
	}
	return blocks, heads
}

func indexOf(col []models.Task, id string) int {
	for i, t := range col {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func clone(col []models.Task) []models.Task {
	out := make([]models.Task, len(col))
	copy(out, col)
	return out
}
