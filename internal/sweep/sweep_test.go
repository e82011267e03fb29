package sweep

import (
	"testing"
	"time"

	"github.com/screentask/screentask/internal/models"
)

func at(t *testing.T, day string) func() time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatalf("bad test date %q: %v", day, err)
	}
	return func() time.Time { return ts }
}

func TestRun_DateBoundaries(t *testing.T) {
	t.Parallel()

	col := []models.Task{
		{ID: "yesterday", ScheduledDate: "2026-08-28"},
		{ID: "yesterday-done", ScheduledDate: "2026-08-28", Completed: true},
		{ID: "today", ScheduledDate: "2026-08-29"},
		{ID: "future", ScheduledDate: "2026-09-01"},
		{ID: "unscheduled"},
	}

	s := NewWithTime(at(t, "2026-08-29"))
	next, changes, ran := s.Run(col)
	if !ran {
		t.Fatal("first pass of the day should run")
	}

	if len(changes.Upserts) != 1 || changes.Upserts[0].ID != "yesterday" {
		t.Fatalf("expected only the stale incomplete task changed, got %+v", changes.Upserts)
	}

	want := map[string]string{
		"yesterday":      "",
		"yesterday-done": "2026-08-28",
		"today":          "2026-08-29",
		"future":         "2026-09-01",
		"unscheduled":    "",
	}
	for _, task := range next {
		if task.ScheduledDate != want[task.ID] {
			t.Errorf("task %s scheduledDate = %q, want %q", task.ID, task.ScheduledDate, want[task.ID])
		}
	}
}

func TestRun_OncePerDay(t *testing.T) {
	t.Parallel()

	s := NewWithTime(at(t, "2026-08-29"))
	col := []models.Task{{ID: "stale", ScheduledDate: "2026-08-01"}}

	if _, _, ran := s.Run(col); !ran {
		t.Fatal("first run should execute")
	}
	if _, _, ran := s.Run(col); ran {
		t.Error("second run on the same date must be skipped")
	}
}

func TestRun_RunsAgainWhenDateChanges(t *testing.T) {
	t.Parallel()

	current := "2026-08-29"
	s := NewWithTime(func() time.Time {
		ts, _ := time.Parse("2006-01-02", current)
		return ts
	})

	if _, _, ran := s.Run(nil); !ran {
		t.Fatal("first run should execute")
	}
	current = "2026-08-30"
	if _, _, ran := s.Run(nil); !ran {
		t.Error("a new date should trigger another pass")
	}
}
