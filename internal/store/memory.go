package store

import (
	"context"
	"sync"

	"github.com/screentask/screentask/internal/models"
)

// Memory is an in-memory Store used by tests. It mirrors the contract of the
// Postgres implementation, including snapshot delivery on every write, and
// adds hooks for injecting subscription errors and write failures.
type Memory struct {
	mu        sync.Mutex
	tasks     map[string]models.Task
	spaces    map[string]models.Space
	taskSubs  []*memTaskSub
	spaceSubs []*memSpaceSub

	// UpsertTaskErr, when set, is returned by UpsertTask. Lets tests
	// simulate remote write failures.
	UpsertTaskErr error

	upsertCount int
}

type memTaskSub struct {
	part      models.Partition
	snapshots chan []models.Task
	errs      chan error
	done      chan struct{}
}

type memSpaceSub struct {
	userID    string
	snapshots chan []models.Space
	errs      chan error
	done      chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:  make(map[string]models.Task),
		spaces: make(map[string]models.Space),
	}
}

// Seed inserts tasks without notifying subscribers, for test setup.
func (m *Memory) Seed(tasks ...models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
}

// SeedSpaces inserts spaces without notifying subscribers.
func (m *Memory) SeedSpaces(spaces ...models.Space) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range spaces {
		m.spaces[s.ID] = s
	}
}

// TaskCount returns the number of stored tasks.
func (m *Memory) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// UpsertCount returns how many task upserts have been issued.
func (m *Memory) UpsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCount
}

// TaskByID returns a stored task by id.
func (m *Memory) TaskByID(id string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// FailTaskSubscriptions delivers an error to every open task subscription,
// simulating a transport failure.
func (m *Memory) FailTaskSubscriptions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.taskSubs {
		sendErr(sub.errs, err)
	}
}

func (m *Memory) UpsertTask(_ context.Context, task models.Task) error {
	m.mu.Lock()
	m.upsertCount++
	if err := m.UpsertTaskErr; err != nil {
		m.mu.Unlock()
		return err
	}
	m.tasks[task.ID] = task
	m.mu.Unlock()
	m.notifyTasks(task.UserID)
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, userID, taskID string) error {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
	m.notifyTasks(userID)
	return nil
}

func (m *Memory) QueryTasks(_ context.Context, part models.Partition) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryTasksLocked(part), nil
}

func (m *Memory) queryTasksLocked(part models.Partition) []models.Task {
	var out []models.Task
	for _, t := range m.tasks {
		if t.UserID != part.UserID {
			continue
		}
		if part.SpaceID != "" && t.SpaceID != part.SpaceID {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *Memory) UpsertSpace(_ context.Context, space models.Space) error {
	m.mu.Lock()
	m.spaces[space.ID] = space
	m.mu.Unlock()
	m.notifySpaces(space.UserID)
	return nil
}

func (m *Memory) QuerySpaces(_ context.Context, userID string) ([]models.Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.querySpacesLocked(userID), nil
}

func (m *Memory) querySpacesLocked(userID string) []models.Space {
	var out []models.Space
	for _, s := range m.spaces {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (m *Memory) Batch(_ context.Context, userID string, ops []Op) error {
	m.mu.Lock()
	for _, op := range ops {
		switch {
		case op.UpsertTask != nil:
			t := *op.UpsertTask
			t.UserID = userID
			m.tasks[t.ID] = t
		case op.UpsertSpace != nil:
			s := *op.UpsertSpace
			s.UserID = userID
			m.spaces[s.ID] = s
		case op.DeleteTaskID != "":
			delete(m.tasks, op.DeleteTaskID)
		case op.DeleteSpaceID != "":
			delete(m.spaces, op.DeleteSpaceID)
		}
	}
	m.mu.Unlock()
	m.notifyTasks(userID)
	m.notifySpaces(userID)
	return nil
}

func (m *Memory) ListUserIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var users []string
	for _, t := range m.tasks {
		if !seen[t.UserID] {
			seen[t.UserID] = true
			users = append(users, t.UserID)
		}
	}
	for _, s := range m.spaces {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			users = append(users, s.UserID)
		}
	}
	return users, nil
}

func (m *Memory) SubscribeTasks(ctx context.Context, part models.Partition) (*TaskSubscription, error) {
	sub := &memTaskSub{
		part:      part,
		snapshots: make(chan []models.Task, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.taskSubs = append(m.taskSubs, sub)
	initial := m.queryTasksLocked(part)
	m.mu.Unlock()
	sendLatestTasks(sub.snapshots, initial)

	cancel := func() {
		m.mu.Lock()
		for i, s := range m.taskSubs {
			if s == sub {
				m.taskSubs = append(m.taskSubs[:i], m.taskSubs[i+1:]...)
				close(sub.done)
				break
			}
		}
		m.mu.Unlock()
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()

	return &TaskSubscription{Snapshots: sub.snapshots, Errs: sub.errs, cancel: cancel}, nil
}

func (m *Memory) SubscribeSpaces(ctx context.Context, userID string) (*SpaceSubscription, error) {
	sub := &memSpaceSub{
		userID:    userID,
		snapshots: make(chan []models.Space, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.spaceSubs = append(m.spaceSubs, sub)
	initial := m.querySpacesLocked(userID)
	m.mu.Unlock()
	sendLatestSpaces(sub.snapshots, initial)

	cancel := func() {
		m.mu.Lock()
		for i, s := range m.spaceSubs {
			if s == sub {
				m.spaceSubs = append(m.spaceSubs[:i], m.spaceSubs[i+1:]...)
				close(sub.done)
				break
			}
		}
		m.mu.Unlock()
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()

	return &SpaceSubscription{Snapshots: sub.snapshots, Errs: sub.errs, cancel: cancel}, nil
}

func (m *Memory) notifyTasks(userID string) {
	m.mu.Lock()
	subs := make([]*memTaskSub, 0, len(m.taskSubs))
	snaps := make([][]models.Task, 0, len(m.taskSubs))
	for _, sub := range m.taskSubs {
		if sub.part.UserID != userID {
			continue
		}
		subs = append(subs, sub)
		snaps = append(snaps, m.queryTasksLocked(sub.part))
	}
	m.mu.Unlock()
	for i, sub := range subs {
		sendLatestTasks(sub.snapshots, snaps[i])
	}
}

func (m *Memory) notifySpaces(userID string) {
	m.mu.Lock()
	subs := make([]*memSpaceSub, 0, len(m.spaceSubs))
	snaps := make([][]models.Space, 0, len(m.spaceSubs))
	for _, sub := range m.spaceSubs {
		if sub.userID != userID {
			continue
		}
		subs = append(subs, sub)
		snaps = append(snaps, m.querySpacesLocked(sub.userID))
	}
	m.mu.Unlock()
	for i, sub := range subs {
		sendLatestSpaces(sub.snapshots, snaps[i])
	}
}
