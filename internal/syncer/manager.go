package syncer

import (
	"context"
	"sync"

	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/models"
)

type session struct {
	syncer *Syncer
	spaces *Spaces
}

// Manager holds one live session per user: a task syncer on the user's
// current partition plus the space reconciler. Switching partitions tears the
// old task subscription down before the new one opens.
type Manager struct {
	cfg Config
	kv  kv.Store

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager builds a Manager. The kv store backs the active-space markers.
func NewManager(cfg Config, kvStore kv.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		kv:       kvStore,
		sessions: make(map[string]*session),
	}
}

// Session returns the user's live session, opening one on first use. The
// initial partition covers the user's active space.
func (m *Manager) Session(ctx context.Context, userID string) (*Syncer, *Spaces, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[userID]; ok {
		return sess.syncer, sess.spaces, nil
	}

	spaces, err := OpenSpaces(ctx, m.cfg.Store, m.kv, m.cfg.Logger, userID)
	if err != nil {
		return nil, nil, err
	}
	part := models.Partition{UserID: userID, SpaceID: spaces.ActiveID(ctx)}
	sc, err := Open(ctx, m.cfg, part)
	if err != nil {
		spaces.Close()
		return nil, nil, err
	}
	m.sessions[userID] = &session{syncer: sc, spaces: spaces}
	return sc, spaces, nil
}

// Activate switches the user's task partition to the given space. The old
// subscription is closed first so a late snapshot from it cannot land on the
// new partition's collection.
func (m *Manager) Activate(ctx context.Context, userID, spaceID string) (*Syncer, error) {
	_, spaces, err := m.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := spaces.SetActive(ctx, spaceID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sessions[userID]
	if sess.syncer.Partition().SpaceID == spaceID {
		return sess.syncer, nil
	}
	sess.syncer.Close()

	next, err := Open(ctx, m.cfg, models.Partition{UserID: userID, SpaceID: spaceID})
	if err != nil {
		delete(m.sessions, userID)
		sess.spaces.Close()
		return nil, err
	}
	sess.syncer = next
	return next, nil
}

// CloseUser releases a user's session, for example on logout.
func (m *Manager) CloseUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[userID]; ok {
		sess.syncer.Close()
		sess.spaces.Close()
		delete(m.sessions, userID)
	}
}

// Close tears down every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		sess.syncer.Close()
		sess.spaces.Close()
		delete(m.sessions, id)
	}
}
