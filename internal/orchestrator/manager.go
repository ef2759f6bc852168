package orchestrator

import (
	"sync"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/google/uuid"
)

// Manager owns the live sessions. Sessions share no mutable state, so the
// manager lock only guards the index.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	newID    func() string
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create starts a session for ownerID whose context is seeded from seed.
func (m *Manager) Create(ownerID string, seed domain.Context) *Session {
	sess := newSession(m.newID(), ownerID, seed, m.now())

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

// Get returns the session with id if it belongs to ownerID.
func (m *Manager) Get(ownerID, id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || sess.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Discard drops the session. In-flight calls on it finish normally.
func (m *Manager) Discard(ownerID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.OwnerID != ownerID {
		return false
	}
	delete(m.sessions, id)
	return true
}

// List returns snapshots of the owner's sessions.
func (m *Manager) List(ownerID string) []domain.SessionSnapshot {
	m.mu.RLock()
	owned := make([]*Session, 0)
	for _, sess := range m.sessions {
		if sess.OwnerID == ownerID {
			owned = append(owned, sess)
		}
	}
	m.mu.RUnlock()

	out := make([]domain.SessionSnapshot, 0, len(owned))
	for _, sess := range owned {
		out = append(out, sess.Snapshot())
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ExpireIdle removes sessions idle for longer than ttl and returns them.
// Sessions with a call in flight are skipped.
func (m *Manager) ExpireIdle(ttl time.Duration) []*Session {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Session
	for id, sess := range m.sessions {
		if !sess.LastActive().Before(cutoff) {
			continue
		}
		if !sess.opMu.TryLock() {
			continue
		}
		delete(m.sessions, id)
		sess.opMu.Unlock()
		expired = append(expired, sess)
	}
	return expired
}
