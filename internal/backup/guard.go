// Package backup maintains a rolling local copy of each partition's task
// collection. The remote store can, under rare conditions, deliver an empty
// first snapshot before data has propagated; treating that snapshot as
// authoritative would look like total data loss to the user. The guard trades
// a small chance of resurrecting recently-deleted tasks (only within the
// freshness window, only on a first-empty-snapshot) for protection against
// that loss. Backups are keyed by (user, space) so switching spaces cannot
// overwrite another space's copy.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/models"
)

const (
	// DefaultFreshnessWindow bounds how old a backup may be and still
	// override an empty first snapshot.
	DefaultFreshnessWindow = 60 * time.Minute
	// DefaultHistoryCap bounds each partition's backup history; the
	// oldest entry is evicted first.
	DefaultHistoryCap = 10
)

// Entry is one backup record: a task collection and the time it was taken.
type Entry struct {
	Tasks     []models.Task `json:"tasks"`
	Timestamp int64         `json:"timestamp"` // unix milliseconds
}

// Guard reads and writes backups through the key-value store.
type Guard struct {
	store  kv.Store
	window time.Duration
	cap    int
	now    func() time.Time
}

// New creates a guard with the default freshness window and history cap.
func New(store kv.Store) *Guard {
	return NewWithOptions(store, DefaultFreshnessWindow, DefaultHistoryCap, time.Now)
}

// NewWithOptions creates a guard with explicit tuning, for tests.
func NewWithOptions(store kv.Store, window time.Duration, historyCap int, now func() time.Time) *Guard {
	return &Guard{store: store, window: window, cap: historyCap, now: now}
}

func slotKey(part models.Partition) string {
	key := "screentask:backup:" + part.UserID
	if part.SpaceID != "" {
		key += ":" + part.SpaceID
	}
	return key
}

func historyKey(part models.Partition) string {
	key := "screentask:backup-history:" + part.UserID
	if part.SpaceID != "" {
		key += ":" + part.SpaceID
	}
	return key
}

// Save records the collection as the partition's latest backup and appends it
// to the bounded history. Empty collections are never saved: an empty backup
// could not help recovery and would shadow a useful one.
func (g *Guard) Save(ctx context.Context, part models.Partition, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	entry := Entry{Tasks: tasks, Timestamp: g.now().UnixMilli()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal backup: %w", err)
	}
	if err := g.store.Set(ctx, slotKey(part), string(raw)); err != nil {
		return fmt.Errorf("failed to write backup slot: %w", err)
	}

	history, err := g.History(ctx, part)
	if err != nil {
		return err
	}
	history = append(history, entry)
	if len(history) > g.cap {
		history = history[len(history)-g.cap:]
	}
	rawHistory, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal backup history: %w", err)
	}
	if err := g.store.Set(ctx, historyKey(part), string(rawHistory)); err != nil {
		return fmt.Errorf("failed to write backup history: %w", err)
	}
	return nil
}

// Latest returns the partition's most recent backup regardless of age. Used
// on subscription errors, where any local copy beats an unknown remote state.
func (g *Guard) Latest(ctx context.Context, part models.Partition) (*Entry, bool, error) {
	raw, ok, err := g.store.Get(ctx, slotKey(part))
	if err != nil || !ok {
		return nil, false, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode backup: %w", err)
	}
	return &entry, true, nil
}

// LatestFresh returns the most recent backup only if it is younger than the
// freshness window. Used on the first-empty-snapshot path, where an old
// backup more likely reflects a deliberately emptied account than a store
// glitch.
func (g *Guard) LatestFresh(ctx context.Context, part models.Partition) (*Entry, bool, error) {
	entry, ok, err := g.Latest(ctx, part)
	if err != nil || !ok {
		return nil, false, err
	}
	age := g.now().Sub(time.UnixMilli(entry.Timestamp))
	if age > g.window {
		return nil, false, nil
	}
	return entry, true, nil
}

// History returns the partition's backup history, oldest first.
func (g *Guard) History(ctx context.Context, part models.Partition) ([]Entry, error) {
	raw, ok, err := g.store.Get(ctx, historyKey(part))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var history []Entry
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("failed to decode backup history: %w", err)
	}
	return history, nil
}
