package syncer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/store"
	"go.uber.org/zap"
)

const activeSpaceKeyPrefix = "screentask:active-space:"

// ErrLastSpace is returned when deleting a user's only remaining space.
var ErrLastSpace = errors.New("cannot delete the last space")

// ErrUnknownSpace is returned when an operation names a space the user does
// not have.
var ErrUnknownSpace = errors.New("unknown space")

// Spaces maintains one user's space list from a live subscription and
// resolves the active-space marker against it. A user with no spaces gets a
// default one exactly once per subscription lifetime, so a transient empty
// snapshot cannot mint duplicates.
type Spaces struct {
	store  store.Store
	kv     kv.Store
	logger *zap.Logger
	userID string

	ctx    context.Context
	cancel context.CancelFunc
	sub    *store.SpaceSubscription

	mu        sync.Mutex
	spaces    []models.Space
	seededDef bool
}

// OpenSpaces subscribes to the user's spaces and starts reconciling.
func OpenSpaces(ctx context.Context, st store.Store, kvStore kv.Store, logger *zap.Logger, userID string) (*Spaces, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())

	sub, err := st.SubscribeSpaces(ctx, userID)
	if err != nil {
		cancel()
		return nil, err
	}

	m := &Spaces{
		store:  st,
		kv:     kvStore,
		logger: logger,
		userID: userID,
		ctx:    runCtx,
		cancel: cancel,
		sub:    sub,
	}
	go m.loop()
	return m, nil
}

// Close tears down the space subscription.
func (m *Spaces) Close() {
	m.cancel()
	m.sub.Close()
}

func (m *Spaces) loop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case snap, ok := <-m.sub.Snapshots:
			if !ok {
				return
			}
			m.applySnapshot(snap)
		case err := <-m.sub.Errs:
			m.logger.Error("space_subscription_error",
				zap.String("user_id", m.userID),
				zap.Error(err),
			)
		}
	}
}

func sortSpaces(snap []models.Space) []models.Space {
	sorted := make([]models.Space, len(snap))
	copy(sorted, snap)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})
	return sorted
}

func (m *Spaces) applySnapshot(snap []models.Space) {
	sorted := sortSpaces(snap)

	m.mu.Lock()
	m.spaces = sorted
	seed := len(sorted) == 0 && !m.seededDef
	if seed {
		m.seededDef = true
	}
	m.mu.Unlock()

	if seed {
		m.seedDefaultSpace()
		return
	}
	if len(sorted) > 0 {
		m.ensureActiveMarker(sorted)
	}
}

// seedDefaultSpace creates the default space and claims every task without a
// space assignment for it. The next snapshot carries the new space.
func (m *Spaces) seedDefaultSpace() {
	ctx, cancelCtx := context.WithTimeout(m.ctx, persistTimeout)
	defer cancelCtx()

	space := models.Space{
		ID:        uuid.New().String(),
		Name:      models.DefaultSpaceName,
		CreatedAt: time.Now().UnixMilli(),
		Order:     0,
		UserID:    m.userID,
	}
	if err := m.store.UpsertSpace(ctx, space); err != nil {
		m.logger.Error("default_space_create_failed",
			zap.String("user_id", m.userID),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("default_space_created",
		zap.String("user_id", m.userID),
		zap.String("space_id", space.ID),
	)

	if n, err := m.MigrateOrphans(ctx, space.ID); err != nil {
		m.logger.Warn("orphan_migration_failed",
			zap.String("user_id", m.userID),
			zap.Error(err),
		)
	} else if n > 0 {
		m.logger.Info("orphan_tasks_migrated",
			zap.String("user_id", m.userID),
			zap.String("space_id", space.ID),
			zap.Int("task_count", n),
		)
	}

	if err := m.kv.Set(ctx, activeSpaceKeyPrefix+m.userID, space.ID); err != nil {
		m.logger.Warn("active_space_marker_write_failed",
			zap.String("user_id", m.userID),
			zap.Error(err),
		)
	}
}

// ensureActiveMarker repairs a marker that points at a deleted or foreign
// space by resetting it to the first space in display order.
func (m *Spaces) ensureActiveMarker(spaces []models.Space) {
	ctx, cancelCtx := context.WithTimeout(m.ctx, persistTimeout)
	defer cancelCtx()

	current, found, err := m.kv.Get(ctx, activeSpaceKeyPrefix+m.userID)
	if err != nil {
		m.logger.Warn("active_space_marker_read_failed",
			zap.String("user_id", m.userID),
			zap.Error(err),
		)
		return
	}
	if found {
		for _, sp := range spaces {
			if sp.ID == current {
				return
			}
		}
	}
	if err := m.kv.Set(ctx, activeSpaceKeyPrefix+m.userID, spaces[0].ID); err != nil {
		m.logger.Warn("active_space_marker_write_failed",
			zap.String("user_id", m.userID),
			zap.Error(err),
		)
	}
}

// List returns the spaces in display order.
func (m *Spaces) List() []models.Space {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Space, len(m.spaces))
	copy(out, m.spaces)
	return out
}

func (m *Spaces) find(id string) (models.Space, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.spaces {
		if sp.ID == id {
			return sp, true
		}
	}
	return models.Space{}, false
}

// ActiveID resolves the active space. An unset or dangling marker falls back
// to the first space; with no spaces at all it returns empty. Before the
// first snapshot lands the local list is empty, so a one-shot query stands in
// for it: a session opened right after login must land on the user's real
// space partition, not on an unscoped one.
func (m *Spaces) ActiveID(ctx context.Context) string {
	spaces := m.List()
	if len(spaces) == 0 {
		queried, err := m.store.QuerySpaces(ctx, m.userID)
		if err != nil {
			m.logger.Warn("space_query_failed",
				zap.String("user_id", m.userID),
				zap.Error(err),
			)
			return ""
		}
		spaces = sortSpaces(queried)
	}
	if len(spaces) == 0 {
		return ""
	}
	current, found, err := m.kv.Get(ctx, activeSpaceKeyPrefix+m.userID)
	if err == nil && found {
		for _, sp := range spaces {
			if sp.ID == current {
				return current
			}
		}
	}
	return spaces[0].ID
}

// SetActive records the active-space marker after validating membership.
func (m *Spaces) SetActive(ctx context.Context, id string) error {
	if _, ok := m.find(id); !ok {
		return ErrUnknownSpace
	}
	return m.kv.Set(ctx, activeSpaceKeyPrefix+m.userID, id)
}

// Create adds a new space at the end of the display order.
func (m *Spaces) Create(ctx context.Context, name string) (models.Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Space{}, errors.New("space name is required")
	}

	m.mu.Lock()
	var maxOrder float64
	for _, sp := range m.spaces {
		if sp.Order > maxOrder {
			maxOrder = sp.Order
		}
	}
	m.mu.Unlock()

	space := models.Space{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
		Order:     maxOrder + 1,
		UserID:    m.userID,
	}
	if err := m.store.UpsertSpace(ctx, space); err != nil {
		return models.Space{}, err
	}
	return space, nil
}

// Rename changes a space's display name.
func (m *Spaces) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("space name is required")
	}
	space, ok := m.find(id)
	if !ok {
		return ErrUnknownSpace
	}
	space.Name = name
	return m.store.UpsertSpace(ctx, space)
}

// Delete removes a space together with every task in it, in one batch. The
// last remaining space cannot be deleted. If the deleted space was active the
// marker moves to the first survivor.
func (m *Spaces) Delete(ctx context.Context, id string) error {
	space, ok := m.find(id)
	if !ok {
		return ErrUnknownSpace
	}

	m.mu.Lock()
	total := len(m.spaces)
	m.mu.Unlock()
	if total <= 1 {
		return ErrLastSpace
	}

	tasks, err := m.store.QueryTasks(ctx, models.Partition{UserID: m.userID, SpaceID: space.ID})
	if err != nil {
		return err
	}
	ops := make([]store.Op, 0, len(tasks)+1)
	for _, t := range tasks {
		ops = append(ops, store.Op{DeleteTaskID: t.ID})
	}
	ops = append(ops, store.Op{DeleteSpaceID: space.ID})
	if err := m.store.Batch(ctx, m.userID, ops); err != nil {
		return err
	}

	if m.ActiveID(ctx) == space.ID {
		for _, sp := range m.List() {
			if sp.ID != space.ID {
				if err := m.kv.Set(ctx, activeSpaceKeyPrefix+m.userID, sp.ID); err != nil {
					m.logger.Warn("active_space_marker_write_failed",
						zap.String("user_id", m.userID),
						zap.Error(err),
					)
				}
				break
			}
		}
	}
	return nil
}

// MigrateOrphans assigns every task without a space to the given space and
// returns how many it moved.
func (m *Spaces) MigrateOrphans(ctx context.Context, spaceID string) (int, error) {
	tasks, err := m.store.QueryTasks(ctx, models.Partition{UserID: m.userID})
	if err != nil {
		return 0, err
	}
	var ops []store.Op
	for _, t := range tasks {
		if t.SpaceID != "" {
			continue
		}
		t.SpaceID = spaceID
		moved := t
		ops = append(ops, store.Op{UpsertTask: &moved})
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := m.store.Batch(ctx, m.userID, ops); err != nil {
		return 0, err
	}
	return len(ops), nil
}
