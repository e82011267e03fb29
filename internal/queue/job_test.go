package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewExtractionJob(t *testing.T) {
	t.Parallel()

	job := NewExtractionJob("user-1", "space-1", "ext-1", "aW1hZ2U=", "image/png", "")

	if job.ID == uuid.Nil {
		t.Error("Expected job ID to be set")
	}
	if job.Type != JobTypeScreenshotExtraction {
		t.Errorf("Expected job type to be %s, got %s", JobTypeScreenshotExtraction, job.Type)
	}
	if job.UserID != "user-1" {
		t.Errorf("Expected user ID to be user-1, got %s", job.UserID)
	}
	if job.ExtractionID != "ext-1" {
		t.Errorf("Expected extraction ID to be ext-1, got %s", job.ExtractionID)
	}
	if job.RetryCount != 0 {
		t.Errorf("Expected retry count to be 0, got %d", job.RetryCount)
	}
	if job.MaxRetries != 3 {
		t.Errorf("Expected max retries to be 3, got %d", job.MaxRetries)
	}
}

func TestJob_ShouldProcess(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		notBefore *time.Time
		notAfter  *time.Time
		want      bool
	}{
		{name: "no time constraints", want: true},
		{name: "not before in the past", notBefore: &past, want: true},
		{name: "not before in the future", notBefore: &future, want: false},
		{name: "not after in the future", notAfter: &future, want: true},
		{name: "not after in the past", notAfter: &past, want: false},
		{name: "inside window", notBefore: &past, notAfter: &future, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := NewExtractionJob("user-1", "", "ext-1", "aW1hZ2U=", "image/png", "")
			job.NotBefore = tt.notBefore
			job.NotAfter = tt.notAfter
			if got := job.ShouldProcess(); got != tt.want {
				t.Errorf("ShouldProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_RequeueDelay(t *testing.T) {
	t.Parallel()

	now := time.Now()
	soon := now.Add(2 * time.Second)
	far := now.Add(10 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name      string
		notBefore *time.Time
		want      time.Duration
	}{
		{name: "no delay set", want: 0},
		{name: "already due", notBefore: &past, want: 0},
		{name: "due soon waits until due", notBefore: &soon, want: 2 * time.Second},
		{name: "far future is capped", notBefore: &far, want: maxRequeueHold},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := NewExtractionJob("user-1", "", "ext-1", "aW1hZ2U=", "image/png", "")
			job.NotBefore = tt.notBefore
			if got := job.RequeueDelay(now); got != tt.want {
				t.Errorf("RequeueDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_IsExpired(t *testing.T) {
	t.Parallel()

	job := NewExtractionJob("user-1", "", "ext-1", "aW1hZ2U=", "image/png", "")
	if job.IsExpired() {
		t.Error("job with no NotAfter reported expired")
	}

	past := time.Now().Add(-time.Minute)
	job.NotAfter = &past
	if !job.IsExpired() {
		t.Error("job past NotAfter reported not expired")
	}
}

func TestJob_Retry(t *testing.T) {
	t.Parallel()

	job := NewExtractionJob("user-1", "", "ext-1", "aW1hZ2U=", "image/png", "")
	for i := 0; i < job.MaxRetries; i++ {
		if !job.CanRetry() {
			t.Fatalf("CanRetry() = false at attempt %d of %d", i, job.MaxRetries)
		}
		job.IncrementRetry()
	}
	if job.CanRetry() {
		t.Error("CanRetry() = true after exhausting retries")
	}
}

func TestMemoryQueue_EnqueueConsumeAck(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	job := NewExtractionJob("user-1", "space-1", "ext-1", "aW1hZ2U=", "image/png", "")
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _, err := q.Consume(ctx, 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.GetJob().ExtractionID != "ext-1" {
			t.Errorf("got job %q, want ext-1", msg.GetJob().ExtractionID)
		}
		if err := msg.Ack(); err != nil {
			t.Errorf("Ack: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	if q.Len() != 0 {
		t.Errorf("queue length = %d after ack, want 0", q.Len())
	}
}

func TestMemoryQueue_NackRequeues(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	job := NewExtractionJob("user-1", "", "ext-1", "aW1hZ2U=", "image/png", "")
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _, err := q.Consume(ctx, 1)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	first := <-msgs
	if err := first.Nack(true); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	select {
	case second := <-msgs:
		if second.GetJob().ID != job.ID {
			t.Errorf("redelivered job %s, want %s", second.GetJob().ID, job.ID)
		}
		_ = second.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("nacked message was not redelivered")
	}
}

func TestMemoryQueue_EnqueueAfterCloseFails(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	_ = q.Close()
	job := NewExtractionJob("user-1", "", "ext-1", "aW1hZ2U=", "image/png", "")
	if err := q.Enqueue(context.Background(), job); err == nil {
		t.Error("Enqueue after Close succeeded, want error")
	}
	if err := q.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck after Close succeeded, want error")
	}
}
