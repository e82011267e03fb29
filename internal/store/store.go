// Package store defines the remote document-store contract the task core
// depends on: partitioned collections with equality filters, real-time change
// notification, one-shot queries, and atomic batch writes. Unset optional
// fields are omitted from persisted documents, never written as null.
package store

import (
	"context"

	"github.com/screentask/screentask/internal/models"
)

// TaskSubscription is a live feed of full collection snapshots for one
// partition. Snapshots are latest-wins: a slow consumer observes the most
// recent state, not every intermediate one. Close cancels the subscription
// and releases its resources.
type TaskSubscription struct {
	Snapshots <-chan []models.Task
	Errs      <-chan error

	cancel func()
}

// Close cancels the subscription. Safe to call more than once.
func (s *TaskSubscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SpaceSubscription is a live feed of a user's spaces.
type SpaceSubscription struct {
	Snapshots <-chan []models.Space
	Errs      <-chan error

	cancel func()
}

// Close cancels the subscription. Safe to call more than once.
func (s *SpaceSubscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Op is one operation in an atomic batch. Exactly one field is set.
type Op struct {
	UpsertTask    *models.Task
	UpsertSpace   *models.Space
	DeleteTaskID  string
	DeleteSpaceID string
}

// Store is the consumed document-store capability.
type Store interface {
	// SubscribeTasks opens a live subscription for one (user, space)
	// partition. The first snapshot is delivered as soon as possible
	// after subscribing.
	SubscribeTasks(ctx context.Context, p models.Partition) (*TaskSubscription, error)
	// UpsertTask writes a task document with full-replace semantics.
	UpsertTask(ctx context.Context, task models.Task) error
	// DeleteTask removes a task document. Deleting an absent document is
	// not an error.
	DeleteTask(ctx context.Context, userID, taskID string) error
	// QueryTasks is a one-shot partition read. An empty SpaceID matches
	// every task the user owns.
	QueryTasks(ctx context.Context, p models.Partition) ([]models.Task, error)

	// SubscribeSpaces opens a live subscription for a user's spaces.
	SubscribeSpaces(ctx context.Context, userID string) (*SpaceSubscription, error)
	// UpsertSpace writes a space document.
	UpsertSpace(ctx context.Context, space models.Space) error
	// QuerySpaces is a one-shot read of a user's spaces.
	QuerySpaces(ctx context.Context, userID string) ([]models.Space, error)

	// Batch commits a list of operations for one user atomically. Used
	// for space deletion, which must remove the space and all its tasks
	// in one unit.
	Batch(ctx context.Context, userID string, ops []Op) error

	// ListUserIDs returns every user id that owns at least one document.
	// Used by operational tooling.
	ListUserIDs(ctx context.Context) ([]string, error)
}
