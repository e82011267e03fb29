// Package extractions tracks screenshot-extraction jobs in the key-value
// store so clients can poll for their outcome after the 202 response.
package extractions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/models"
)

const keyPrefix = "screentask:extraction:"

// ErrNotFound is returned when no record exists for an extraction ID.
var ErrNotFound = errors.New("extraction not found")

// Registry reads and writes extraction status records.
type Registry struct {
	store kv.Store
	now   func() time.Time
}

// New creates a Registry backed by the given store.
func New(store kv.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

func recordKey(userID, id string) string {
	return keyPrefix + userID + ":" + id
}

// Create writes a pending record and returns it.
func (r *Registry) Create(ctx context.Context, userID, spaceID string) (*models.Extraction, error) {
	now := r.now().UnixMilli()
	ext := &models.Extraction{
		ID:        uuid.New().String(),
		SpaceID:   spaceID,
		Status:    models.ExtractionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
	}
	if err := r.put(ctx, ext); err != nil {
		return nil, err
	}
	return ext, nil
}

// Get loads one extraction record for the user.
func (r *Registry) Get(ctx context.Context, userID, id string) (*models.Extraction, error) {
	raw, found, err := r.store.Get(ctx, recordKey(userID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction record: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	var ext models.Extraction
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return nil, fmt.Errorf("failed to decode extraction record: %w", err)
	}
	ext.UserID = userID
	return &ext, nil
}

// MarkDone records a successful extraction and the tasks it created.
func (r *Registry) MarkDone(ctx context.Context, userID, id string, taskIDs []string) error {
	ext, err := r.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	ext.Status = models.ExtractionStatusDone
	ext.TaskIDs = taskIDs
	ext.Error = ""
	ext.UpdatedAt = r.now().UnixMilli()
	return r.put(ctx, ext)
}

// MarkFailed records a terminal failure with its reason.
func (r *Registry) MarkFailed(ctx context.Context, userID, id, reason string) error {
	ext, err := r.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	ext.Status = models.ExtractionStatusFailed
	ext.Error = reason
	ext.UpdatedAt = r.now().UnixMilli()
	return r.put(ctx, ext)
}

func (r *Registry) put(ctx context.Context, ext *models.Extraction) error {
	raw, err := json.Marshal(ext)
	if err != nil {
		return fmt.Errorf("failed to encode extraction record: %w", err)
	}
	if err := r.store.Set(ctx, recordKey(ext.UserID, ext.ID), string(raw)); err != nil {
		return fmt.Errorf("failed to write extraction record: %w", err)
	}
	return nil
}
