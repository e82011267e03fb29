package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue is an in-process JobQueue for tests and single-node setups.
// Nacked messages with requeue go back to the front of the queue.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   []*Job
	closed bool
	wake   chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the queue
func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue is closed")
	}
	q.jobs = append(q.jobs, job)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job
}

func (q *MemoryQueue) requeue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.jobs = append([]*Job{job}, q.jobs...)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports how many jobs are waiting
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Consume returns a channel of messages from the queue
func (q *MemoryQueue) Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error) {
	if prefetchCount < 1 {
		prefetchCount = 1
	}
	msgChan := make(chan *Message, prefetchCount)
	errChan := make(chan error, 1)

	go func() {
		defer close(msgChan)
		defer close(errChan)
		for {
			job := q.pop()
			if job == nil {
				select {
				case <-ctx.Done():
					return
				case <-q.wake:
					continue
				}
			}
			if job.IsExpired() {
				continue
			}
			if !job.ShouldProcess() {
				q.requeue(job)
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}
			msg := &Message{
				Job:   job,
				ackFn: func() error { return nil },
				nackFn: func(requeue bool) error {
					if requeue {
						q.requeue(job)
					}
					return nil
				},
			}
			select {
			case <-ctx.Done():
				q.requeue(job)
				return
			case msgChan <- msg:
			}
		}
	}()

	return msgChan, errChan, nil
}

// Close marks the queue closed
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// HealthCheck verifies the queue is usable
func (q *MemoryQueue) HealthCheck(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue is closed")
	}
	return nil
}
