// Package syncer keeps one partition's in-memory task collection in step
// with the remote document store: snapshots flow in through a live
// subscription, mutations apply optimistically and persist out, and the
// backup guard protects the first snapshot against the empty-snapshot race.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/screentask/screentask/internal/backup"
	"github.com/screentask/screentask/internal/engine"
	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/store"
	"github.com/screentask/screentask/internal/sweep"
	"go.uber.org/zap"
)

// persistTimeout bounds each fire-and-forget remote write.
const persistTimeout = 30 * time.Second

// Config carries the collaborators a Syncer needs. Everything is injected so
// tests can run against the in-memory store.
type Config struct {
	Store  store.Store
	Guard  *backup.Guard
	Engine *engine.Engine
	Logger *zap.Logger
}

// Syncer owns the collection for one (user, space) partition. All mutation
// methods run synchronously against the in-memory collection and schedule the
// remote writes asynchronously; a failed write is logged and retried
// implicitly by whatever mutation touches the record next.
type Syncer struct {
	cfg     Config
	part    models.Partition
	sweeper *sweep.Sweeper

	ctx    context.Context
	cancel context.CancelFunc
	sub    *store.TaskSubscription

	mu       sync.Mutex
	col      []models.Task
	gotFirst bool
}

// Open subscribes to the partition and starts processing snapshots. Until
// the first snapshot arrives the collection reads as empty, never as stale
// data from another partition.
func Open(ctx context.Context, cfg Config, part models.Partition) (*Syncer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())

	sub, err := cfg.Store.SubscribeTasks(ctx, part)
	if err != nil {
		cancel()
		return nil, err
	}

	// Each syncer carries its own sweeper: the once-per-day latch is scoped
	// to one partition, so one user's snapshot cannot consume another's pass.
	s := &Syncer{
		cfg:     cfg,
		part:    part,
		sweeper: sweep.New(),
		ctx:     runCtx,
		cancel:  cancel,
		sub:     sub,
	}
	go s.loop()
	return s, nil
}

// Close tears down the subscription. Must be called before a new Syncer is
// opened for the same user on a different partition, so a late snapshot from
// the old partition cannot overwrite the new one.
func (s *Syncer) Close() {
	s.cancel()
	s.sub.Close()
}

// Partition returns the partition this syncer serves.
func (s *Syncer) Partition() models.Partition {
	return s.part
}

// Snapshot returns a copy of the current canonical collection.
func (s *Syncer) Snapshot() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, len(s.col))
	copy(out, s.col)
	return out
}

func (s *Syncer) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case snap, ok := <-s.sub.Snapshots:
			if !ok {
				return
			}
			s.applySnapshot(snap)
		case err := <-s.sub.Errs:
			s.recoverFromSubscriptionError(err)
		}
	}
}

// applySnapshot replaces the collection with the normalized remote state. An
// empty first snapshot is treated as a suspected propagation failure rather
// than an empty account: a fresh backup, when one exists, wins and is pushed
// back to the store.
func (s *Syncer) applySnapshot(snap []models.Task) {
	s.mu.Lock()
	first := !s.gotFirst
	s.gotFirst = true
	s.mu.Unlock()

	if first && len(snap) == 0 {
		if s.restoreFromBackup(true) {
			return
		}
	}

	col := engine.Normalize(snap)
	s.mu.Lock()
	s.col = col
	s.mu.Unlock()

	s.runSweep()
	s.saveBackup()
}

// restoreFromBackup adopts the latest backup for this partition and re-issues
// upserts for every task in it. With fresh=true only a backup within the
// freshness window qualifies.
func (s *Syncer) restoreFromBackup(fresh bool) bool {
	ctx, cancelCtx := context.WithTimeout(s.ctx, persistTimeout)
	defer cancelCtx()

	var entry *backup.Entry
	var ok bool
	var err error
	if fresh {
		entry, ok, err = s.cfg.Guard.LatestFresh(ctx, s.part)
	} else {
		entry, ok, err = s.cfg.Guard.Latest(ctx, s.part)
	}
	if err != nil {
		s.cfg.Logger.Warn("backup_lookup_failed",
			zap.String("user_id", s.part.UserID),
			zap.Error(err),
		)
		return false
	}
	if !ok || len(entry.Tasks) == 0 {
		return false
	}

	// The backup medium does not carry the owner; stamp it back on.
	restored := make([]models.Task, 0, len(entry.Tasks))
	for _, t := range entry.Tasks {
		t.UserID = s.part.UserID
		restored = append(restored, t)
	}

	s.mu.Lock()
	s.col = engine.Normalize(restored)
	s.mu.Unlock()

	s.cfg.Logger.Info("restored_collection_from_backup",
		zap.String("user_id", s.part.UserID),
		zap.Int("task_count", len(restored)),
		zap.Bool("freshness_checked", fresh),
	)

	s.persist(engine.Changes{Upserts: restored})
	return true
}

// recoverFromSubscriptionError falls back to the freshest backup regardless
// of age. With no backup the collection keeps its last known state; it is
// never cleared on a transport failure.
func (s *Syncer) recoverFromSubscriptionError(err error) {
	s.cfg.Logger.Error("task_subscription_error",
		zap.String("user_id", s.part.UserID),
		zap.String("space_id", s.part.SpaceID),
		zap.Error(err),
	)
	s.restoreFromBackup(false)
}

func (s *Syncer) runSweep() {
	s.mu.Lock()
	next, changes, ran := s.sweeper.Run(s.col)
	if ran && !changes.Empty() {
		s.col = next
	}
	s.mu.Unlock()

	if ran && !changes.Empty() {
		s.cfg.Logger.Info("staleness_sweep_cleared_dates",
			zap.String("user_id", s.part.UserID),
			zap.Int("task_count", len(changes.Upserts)),
		)
		s.persist(changes)
	}
}

func (s *Syncer) saveBackup() {
	s.mu.Lock()
	col := make([]models.Task, len(s.col))
	copy(col, s.col)
	s.mu.Unlock()

	if len(col) == 0 {
		return
	}
	ctx, cancelCtx := context.WithTimeout(context.Background(), persistTimeout)
	defer cancelCtx()
	if err := s.cfg.Guard.Save(ctx, s.part, col); err != nil {
		s.cfg.Logger.Warn("backup_save_failed",
			zap.String("user_id", s.part.UserID),
			zap.Error(err),
		)
	}
}

// persist writes a changed set to the store in the background. Failures are
// logged and do not roll back the optimistic local state.
func (s *Syncer) persist(changes engine.Changes) {
	if changes.Empty() {
		return
	}
	go func() {
		ctx, cancelCtx := context.WithTimeout(context.Background(), persistTimeout)
		defer cancelCtx()

		for _, t := range changes.Upserts {
			if err := s.cfg.Store.UpsertTask(ctx, t); err != nil {
				s.cfg.Logger.Error("remote_upsert_failed",
					zap.String("task_id", t.ID),
					zap.String("user_id", s.part.UserID),
					zap.Error(err),
				)
			}
		}
		for _, id := range changes.Deletes {
			if err := s.cfg.Store.DeleteTask(ctx, s.part.UserID, id); err != nil {
				s.cfg.Logger.Error("remote_delete_failed",
					zap.String("task_id", id),
					zap.String("user_id", s.part.UserID),
					zap.Error(err),
				)
			}
		}
	}()
}

// apply runs one mutation against the collection, adopts the result
// optimistically, and schedules persistence of the changed set.
func (s *Syncer) apply(op func(col []models.Task) ([]models.Task, engine.Changes)) []models.Task {
	s.mu.Lock()
	next, changes := op(s.col)
	if !changes.Empty() {
		s.col = next
	}
	out := make([]models.Task, len(s.col))
	copy(out, s.col)
	s.mu.Unlock()

	if !changes.Empty() {
		s.saveBackup()
		s.persist(changes)
	}
	return out
}

// Add creates one top-level task per text; see engine.Add for ordering.
func (s *Syncer) Add(texts []string, description string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.Add(col, s.part, texts, description)
	})
}

// AddFromExtraction inserts an extracted parent/subtask block at the front.
func (s *Syncer) AddFromExtraction(source, mainTask string, subtasks []string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.AddFromExtraction(col, s.part, source, mainTask, subtasks)
	})
}

// Toggle flips completion, cascading parent completion to subtasks.
func (s *Syncer) Toggle(id string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.Toggle(col, id)
	})
}

// Delete removes a task and, for a parent, its subtasks.
func (s *Syncer) Delete(id string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.Delete(col, id)
	})
}

// EditText replaces a task's title.
func (s *Syncer) EditText(id, text string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.EditText(col, id, text)
	})
}

// EditDescription replaces or clears a task's description.
func (s *Syncer) EditDescription(id, description string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.EditDescription(col, id, description)
	})
}

// SetFrog toggles the single priority task.
func (s *Syncer) SetFrog(id string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.SetFrog(col, id)
	})
}

// ScheduleForToday plans a task for the local current date.
func (s *Syncer) ScheduleForToday(id string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.ScheduleForToday(col, id)
	})
}

// SetScheduledDate assigns or clears a task's schedule date.
func (s *Syncer) SetScheduledDate(id, date string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.SetScheduledDate(col, id, date)
	})
}

// AddSubtask appends a subtask to a parent's block.
func (s *Syncer) AddSubtask(parentID, text string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.AddSubtask(col, s.part, parentID, text)
	})
}

// Reorder moves a block to another block's position.
func (s *Syncer) Reorder(activeID, overID string) []models.Task {
	return s.apply(func(col []models.Task) ([]models.Task, engine.Changes) {
		return s.cfg.Engine.Reorder(col, activeID, overID)
	})
}
