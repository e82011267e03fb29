package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/screentask/screentask/internal/backup"
	"github.com/screentask/screentask/internal/engine"
	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/store"
	"go.uber.org/zap"
)

const testUser = "user-1"

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestConfig(st store.Store, guard *backup.Guard) Config {
	return Config{
		Store:  st,
		Guard:  guard,
		Engine: engine.New(),
		Logger: zap.NewNop(),
	}
}

func orderPtr(v float64) *float64 { return &v }

func seedTask(id, spaceID, text string, order float64) models.Task {
	return models.Task{
		ID:        id,
		UserID:    testUser,
		SpaceID:   spaceID,
		Text:      text,
		CreatedAt: time.Now().UnixMilli(),
		Order:     orderPtr(order),
	}
}

func TestSyncerAddIsOptimisticAndPersists(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	guard := backup.New(kv.NewMemoryStore())
	s, err := Open(context.Background(), newTestConfig(st, guard), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "first snapshot", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gotFirst
	})

	col := s.Add([]string{"write report"}, "")
	if len(col) != 1 || col[0].Text != "write report" {
		t.Fatalf("optimistic collection = %+v, want the new task", col)
	}

	waitFor(t, "remote upsert", func() bool { return st.TaskCount() == 1 })
}

func TestSyncerRestoresFreshBackupOnEmptyFirstSnapshot(t *testing.T) {
	t.Parallel()

	kvStore := kv.NewMemoryStore()
	guard := backup.New(kvStore)
	saved := []models.Task{
		seedTask("t1", "", "recovered task", 5),
		seedTask("t2", "", "another one", 4),
	}
	if err := guard.Save(context.Background(), models.Partition{UserID: testUser}, saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	st := store.NewMemory()
	s, err := Open(context.Background(), newTestConfig(st, guard), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "backup adoption", func() bool { return len(s.Snapshot()) == 2 })
	waitFor(t, "re-upsert of backup tasks", func() bool { return st.TaskCount() == 2 })

	if got := s.Snapshot(); got[0].ID != "t1" {
		t.Errorf("restored order starts with %q, want t1", got[0].ID)
	}
}

func TestSyncerIgnoresStaleBackupOnFirstSnapshot(t *testing.T) {
	t.Parallel()

	kvStore := kv.NewMemoryStore()
	base := time.Now()
	writer := backup.NewWithOptions(kvStore, backup.DefaultFreshnessWindow, backup.DefaultHistoryCap,
		func() time.Time { return base })
	if err := writer.Save(context.Background(), models.Partition{UserID: testUser}, []models.Task{seedTask("t1", "", "old", 1)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Reading 90 minutes later, well past the freshness window.
	reader := backup.NewWithOptions(kvStore, backup.DefaultFreshnessWindow, backup.DefaultHistoryCap,
		func() time.Time { return base.Add(90 * time.Minute) })

	st := store.NewMemory()
	s, err := Open(context.Background(), newTestConfig(st, reader), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "first snapshot", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gotFirst
	})
	time.Sleep(50 * time.Millisecond)

	if got := s.Snapshot(); len(got) != 0 {
		t.Errorf("collection = %d tasks, want empty when backup is stale", len(got))
	}
	if st.TaskCount() != 0 {
		t.Errorf("store has %d tasks, want none", st.TaskCount())
	}
}

func TestSyncerSubscriptionErrorAdoptsBackupRegardlessOfAge(t *testing.T) {
	t.Parallel()

	kvStore := kv.NewMemoryStore()
	base := time.Now()
	writer := backup.NewWithOptions(kvStore, backup.DefaultFreshnessWindow, backup.DefaultHistoryCap,
		func() time.Time { return base })
	if err := writer.Save(context.Background(), models.Partition{UserID: testUser}, []models.Task{seedTask("t1", "", "kept", 1)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reader := backup.NewWithOptions(kvStore, backup.DefaultFreshnessWindow, backup.DefaultHistoryCap,
		func() time.Time { return base.Add(24 * time.Hour) })

	st := store.NewMemory()
	s, err := Open(context.Background(), newTestConfig(st, reader), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "first snapshot", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gotFirst
	})
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("stale backup adopted on first snapshot: %+v", got)
	}

	st.FailTaskSubscriptions(errors.New("stream broken"))

	waitFor(t, "fallback to backup", func() bool { return len(s.Snapshot()) == 1 })
}

func TestSyncerSweepsStaleDatesOnSnapshot(t *testing.T) {
	t.Parallel()

	yesterday := time.Now().AddDate(0, 0, -1).Format(engine.DateLayout)
	stale := seedTask("t1", "", "overdue", 2)
	stale.ScheduledDate = yesterday
	done := seedTask("t2", "", "finished", 1)
	done.ScheduledDate = yesterday
	done.Completed = true

	st := store.NewMemory()
	st.Seed(stale, done)

	guard := backup.New(kv.NewMemoryStore())
	s, err := Open(context.Background(), newTestConfig(st, guard), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "sweep to clear the overdue date", func() bool {
		got, ok := st.TaskByID("t1")
		return ok && got.ScheduledDate == ""
	})

	if got, _ := st.TaskByID("t2"); got.ScheduledDate != yesterday {
		t.Errorf("completed task date = %q, want untouched %q", got.ScheduledDate, yesterday)
	}
}

func TestSyncerSavesBackupAfterMutation(t *testing.T) {
	t.Parallel()

	kvStore := kv.NewMemoryStore()
	guard := backup.New(kvStore)
	st := store.NewMemory()
	s, err := Open(context.Background(), newTestConfig(st, guard), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "first snapshot", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gotFirst
	})

	s.Add([]string{"back me up"}, "")

	entry, ok, err := guard.Latest(context.Background(), models.Partition{UserID: testUser})
	if err != nil || !ok {
		t.Fatalf("Latest: entry=%v ok=%v err=%v", entry, ok, err)
	}
	if len(entry.Tasks) != 1 || entry.Tasks[0].Text != "back me up" {
		t.Errorf("backup tasks = %+v, want the added task", entry.Tasks)
	}
}

func TestSyncerScopesToPartition(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.Seed(
		seedTask("t1", "work", "in scope", 2),
		seedTask("t2", "home", "out of scope", 1),
	)

	guard := backup.New(kv.NewMemoryStore())
	s, err := Open(context.Background(), newTestConfig(st, guard),
		models.Partition{UserID: testUser, SpaceID: "work"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "scoped snapshot", func() bool {
		got := s.Snapshot()
		return len(got) == 1 && got[0].ID == "t1"
	})
}

func TestSyncerMutationsFlowThroughEngine(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	parent := seedTask("p", "", "parent", 3)
	child := seedTask("c", "", "child", 2.999)
	child.ParentID = "p"
	st.Seed(parent, child)

	guard := backup.New(kv.NewMemoryStore())
	s, err := Open(context.Background(), newTestConfig(st, guard), models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	waitFor(t, "seeded snapshot", func() bool { return len(s.Snapshot()) == 2 })

	col := s.Toggle("p")
	for _, task := range col {
		if !task.Completed {
			t.Errorf("task %s not completed after parent toggle", task.ID)
		}
	}
	waitFor(t, "toggle persisted", func() bool {
		got, ok := st.TaskByID("p")
		return ok && got.Completed
	})

	col = s.Delete("p")
	if len(col) != 0 {
		t.Fatalf("collection after cascade delete = %+v, want empty", col)
	}
	waitFor(t, "remote deletes", func() bool { return st.TaskCount() == 0 })
}

func TestSyncerSweepsEachPartitionIndependently(t *testing.T) {
	t.Parallel()

	yesterday := time.Now().AddDate(0, 0, -1).Format(engine.DateLayout)
	first := seedTask("a1", "", "overdue for user-1", 1)
	first.ScheduledDate = yesterday
	second := models.Task{
		ID:            "b1",
		UserID:        "user-2",
		Text:          "overdue for user-2",
		CreatedAt:     time.Now().UnixMilli(),
		Order:         orderPtr(1),
		ScheduledDate: yesterday,
	}

	st := store.NewMemory()
	st.Seed(first, second)

	cfg := newTestConfig(st, backup.New(kv.NewMemoryStore()))
	s1, err := Open(context.Background(), cfg, models.Partition{UserID: testUser})
	if err != nil {
		t.Fatalf("Open user-1: %v", err)
	}
	defer s1.Close()

	waitFor(t, "first user's sweep", func() bool {
		got, ok := st.TaskByID("a1")
		return ok && got.ScheduledDate == ""
	})

	s2, err := Open(context.Background(), cfg, models.Partition{UserID: "user-2"})
	if err != nil {
		t.Fatalf("Open user-2: %v", err)
	}
	defer s2.Close()

	waitFor(t, "second user's sweep", func() bool {
		got, ok := st.TaskByID("b1")
		return ok && got.ScheduledDate == ""
	})
}

func TestSyncerBackupScopedToSpace(t *testing.T) {
	t.Parallel()

	kvStore := kv.NewMemoryStore()
	guard := backup.New(kvStore)
	workTask := seedTask("w1", "work", "work item", 1)
	if err := guard.Save(context.Background(), models.Partition{UserID: testUser, SpaceID: "work"},
		[]models.Task{workTask}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	st := store.NewMemory()
	cfg := newTestConfig(st, guard)

	home, err := Open(context.Background(), cfg, models.Partition{UserID: testUser, SpaceID: "home"})
	if err != nil {
		t.Fatalf("Open home: %v", err)
	}
	defer home.Close()

	waitFor(t, "first snapshot on home", func() bool {
		home.mu.Lock()
		defer home.mu.Unlock()
		return home.gotFirst
	})
	time.Sleep(50 * time.Millisecond)

	if got := home.Snapshot(); len(got) != 0 {
		t.Fatalf("home partition adopted another space's backup: %+v", got)
	}
	if st.TaskCount() != 0 {
		t.Fatalf("store has %d tasks, want none written for home", st.TaskCount())
	}

	work, err := Open(context.Background(), cfg, models.Partition{UserID: testUser, SpaceID: "work"})
	if err != nil {
		t.Fatalf("Open work: %v", err)
	}
	defer work.Close()

	waitFor(t, "work partition restore", func() bool {
		got := work.Snapshot()
		return len(got) == 1 && got[0].ID == "w1"
	})
	waitFor(t, "re-upsert of the work backup", func() bool { return st.TaskCount() == 1 })
}
