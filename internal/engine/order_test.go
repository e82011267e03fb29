package engine

import (
	"testing"

	"github.com/screentask/screentask/internal/models"
)

func task(id string, order float64, createdAt int64) models.Task {
	t := models.Task{ID: id, Text: "task " + id, CreatedAt: createdAt}
	return t.WithOrder(order)
}

func TestOrderClock_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	c := NewOrderClock()
	last := c.Next()
	for i := 0; i < 1000; i++ {
		v := c.Next()
		if v <= last {
			t.Fatalf("clock went backwards: %f after %f", v, last)
		}
		last = v
	}
}

func TestOrderClock_ReserveLeavesRoomForBlock(t *testing.T) {
	t.Parallel()

	c := NewOrderClock()
	prev := c.Next()
	base := c.Reserve(5)
	if base-4*subOrderStep <= prev {
		t.Errorf("reserved block overlaps earlier value: base %f, prev %f", base, prev)
	}
}

func TestNormalize_BlocksAndOrphans(t *testing.T) {
	t.Parallel()

	col := []models.Task{
		task("b", 200, 200),
		{ID: "a1", ParentID: "a", CreatedAt: 301},
		task("a", 300, 300),
		{ID: "stray", ParentID: "ghost", CreatedAt: 400},
	}
	got := Normalize(col)
	want := []string{"a", "a1", "b", "stray"}
	if !sameIDs(got, want) {
		t.Errorf("Normalize = %v, want %v", ids(got), want)
	}
}

func TestNormalize_OrderFallsBackToCreatedAt(t *testing.T) {
	t.Parallel()

	col := []models.Task{
		{ID: "old", CreatedAt: 100},
		{ID: "new", CreatedAt: 200},
		task("ranked", 150, 50),
	}
	got := Normalize(col)
	want := []string{"new", "ranked", "old"}
	if !sameIDs(got, want) {
		t.Errorf("Normalize = %v, want %v", ids(got), want)
	}
}

func TestPartitionByCompletion_TopLevelOnly(t *testing.T) {
	t.Parallel()

	col := []models.Task{
		task("a", 300, 300),
		{ID: "a1", ParentID: "a", Completed: true},
		func() models.Task { x := task("b", 200, 200); x.Completed = true; return x }(),
		task("c", 100, 100),
	}
	active, completed := PartitionByCompletion(col)
	if !sameIDs(active, []string{"a", "c"}) {
		t.Errorf("active = %v", ids(active))
	}
	if !sameIDs(completed, []string{"b"}) {
		t.Errorf("completed = %v", ids(completed))
	}
}

func TestTodayOrPriority(t *testing.T) {
	t.Parallel()

	today := "2026-08-29"
	frog := task("frog", 100, 100)
	frog.IsFrog = true
	scheduled := task("sched", 300, 300)
	scheduled.ScheduledDate = today
	past := task("past", 250, 250)
	past.ScheduledDate = "2026-08-01"
	done := task("done", 200, 200)
	done.ScheduledDate = today
	done.Completed = true
	sub := models.Task{ID: "sub", ParentID: "sched", ScheduledDate: today}

	col := Normalize([]models.Task{frog, scheduled, past, done, sub})
	got := TodayOrPriority(col, today)
	if !sameIDs(got, []string{"frog", "sched"}) {
		t.Errorf("TodayOrPriority = %v, want [frog sched]", ids(got))
	}
}

func TestChildrenOf_PreservesCollectionOrder(t *testing.T) {
	t.Parallel()

	col := Normalize(block("p", 100, "c1", "c2", "c3"))
	got := ChildrenOf(col, "p")
	if !sameIDs(got, []string{"c1", "c2", "c3"}) {
		t.Errorf("ChildrenOf = %v", ids(got))
	}
}
