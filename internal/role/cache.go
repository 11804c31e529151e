package role

import (
	"sync"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// SessionStore is the persistence boundary for assumed-role sessions.
// The cache works against this interface so tests run in-memory while
// the engine persists to SQLite. Implementations need not be safe for
// concurrent use; the cache serializes access.
type SessionStore interface {
	Get(roleID string) (*core.AssumedSession, bool, error)
	Put(session core.AssumedSession) error
	Delete(roleID string) error
	List() ([]core.AssumedSession, error)
}

// MemorySessionStore is the in-memory SessionStore used in tests and
// memory-only mode.
type MemorySessionStore struct {
	sessions map[string]core.AssumedSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]core.AssumedSession)}
}

func (s *MemorySessionStore) Get(roleID string) (*core.AssumedSession, bool, error) {
	sess, ok := s.sessions[roleID]
	if !ok {
		return nil, false, nil
	}
	return &sess, true, nil
}

func (s *MemorySessionStore) Put(session core.AssumedSession) error {
	s.sessions[session.RoleID] = session
	return nil
}

func (s *MemorySessionStore) Delete(roleID string) error {
	delete(s.sessions, roleID)
	return nil
}

func (s *MemorySessionStore) List() ([]core.AssumedSession, error) {
	out := make([]core.AssumedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out, nil
}

// SessionCache holds active assumed-role sessions keyed by role
// identifier. At most one session per role: assuming again replaces.
// Expiry is lazy — checked on access, never swept by a timer.
type SessionCache struct {
	mu    sync.Mutex
	store SessionStore
}

// NewSessionCache creates a cache over the given store.
func NewSessionCache(store SessionStore) *SessionCache {
	return &SessionCache{store: store}
}

// Active returns the non-expired session for a role, if any. An expired
// entry is left in place; replacement happens on the next Put.
func (c *SessionCache) Active(roleID string, now time.Time) (*core.AssumedSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok, err := c.store.Get(roleID)
	if err != nil || !ok {
		return nil, false, err
	}
	if sess.Expired(now) {
		return nil, false, nil
	}
	return sess, true, nil
}

// Put stores a session, replacing any previous entry for the role.
func (c *SessionCache) Put(session core.AssumedSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Put(session)
}

// Revoke removes a session regardless of expiry.
func (c *SessionCache) Revoke(roleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(roleID)
}

// ActiveSessions returns all sessions with expiration still in the
// future. The cache is not mutated; eviction stays lazy.
func (c *SessionCache) ActiveSessions(now time.Time) ([]core.AssumedSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.store.List()
	if err != nil {
		return nil, err
	}

	var active []core.AssumedSession
	for _, s := range all {
		if !s.Expired(now) {
			active = append(active, s)
		}
	}
	return active, nil
}
