package memory

import (
	"context"
	"sync"
	"time"

	"github.com/memovia/callkeeper/pkg/model"
	"github.com/memovia/callkeeper/pkg/store"
)

type sessionEntry struct {
	session   model.Session
	expiresAt time.Time
}

type connEntry struct {
	sessionKey string
	expiresAt  time.Time
}

// Store is a memory-based session store used for tests and single-node
// development setups. Expiry is enforced lazily on reads and eagerly by
// SweepExpired.
type Store struct {
	sync.RWMutex
	ttl      time.Duration
	sessions map[string]*sessionEntry
	conns    map[string]*connEntry
}

// NewStore creates a new memory-based session store.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &Store{
		ttl:      ttl,
		sessions: make(map[string]*sessionEntry),
		conns:    make(map[string]*connEntry),
	}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) Create(ctx context.Context, contactName, subjectID, callerID, deviceKind, deviceID string) (*model.Session, error) {
	sess := store.NewSession(contactName, subjectID, callerID, deviceKind, deviceID)

	s.Lock()
	defer s.Unlock()
	s.sessions[sess.SessionKey] = &sessionEntry{
		session:   *sess,
		expiresAt: time.Now().Add(s.ttl),
	}

	return sess, nil
}

func (s *Store) Get(ctx context.Context, sessionKey string) (*model.Session, error) {
	s.RLock()
	defer s.RUnlock()

	entry, ok := s.sessions[sessionKey]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, store.ErrNotFound
	}

	sess := entry.session
	return &sess, nil
}

func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	sess.Touch()

	s.Lock()
	defer s.Unlock()
	s.sessions[sess.SessionKey] = &sessionEntry{
		session:   *sess,
		expiresAt: time.Now().Add(s.ttl),
	}

	return nil
}

func (s *Store) ExtendTTL(ctx context.Context, sessionKey string) (bool, error) {
	s.Lock()
	defer s.Unlock()

	entry, ok := s.sessions[sessionKey]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, nil
	}

	entry.session.Touch()
	entry.expiresAt = time.Now().Add(s.ttl)

	if entry.session.ConnectionID != "" {
		if conn, ok := s.conns[entry.session.ConnectionID]; ok {
			conn.expiresAt = entry.expiresAt
		}
	}

	return true, nil
}

func (s *Store) MapConnection(ctx context.Context, connectionID, sessionKey string) error {
	s.Lock()
	defer s.Unlock()

	entry, ok := s.sessions[sessionKey]
	if !ok || time.Now().After(entry.expiresAt) {
		return store.ErrNotFound
	}

	// Last writer wins: discard the prior connection's association.
	if prev := entry.session.ConnectionID; prev != "" && prev != connectionID {
		delete(s.conns, prev)
	}

	entry.session.ConnectionID = connectionID
	entry.session.Touch()
	entry.expiresAt = time.Now().Add(s.ttl)
	s.conns[connectionID] = &connEntry{
		sessionKey: sessionKey,
		expiresAt:  entry.expiresAt,
	}

	return nil
}

func (s *Store) ConnectionToSession(ctx context.Context, connectionID string) (string, error) {
	s.RLock()
	defer s.RUnlock()

	entry, ok := s.conns[connectionID]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", store.ErrNotFound
	}

	return entry.sessionKey, nil
}

func (s *Store) UnmapConnection(ctx context.Context, connectionID string) error {
	s.Lock()
	defer s.Unlock()

	entry, ok := s.conns[connectionID]
	if !ok {
		return nil
	}
	delete(s.conns, connectionID)

	// Clear the session's connection id only if it still points at this
	// connection; a superseding connection may already own the session.
	if sess, ok := s.sessions[entry.sessionKey]; ok && sess.session.ConnectionID == connectionID {
		sess.session.ConnectionID = ""
		sess.session.Touch()
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, sessionKey string) error {
	s.Lock()
	defer s.Unlock()

	return s.deleteLocked(sessionKey)
}

func (s *Store) deleteLocked(sessionKey string) error {
	entry, ok := s.sessions[sessionKey]
	if !ok {
		return store.ErrNotFound
	}

	if entry.session.ConnectionID != "" {
		delete(s.conns, entry.session.ConnectionID)
	}
	delete(s.sessions, sessionKey)

	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]model.Session, error) {
	s.RLock()
	defer s.RUnlock()

	now := time.Now()
	sessions := make([]model.Session, 0, len(s.sessions))
	for _, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			continue
		}
		sessions = append(sessions, entry.session)
	}

	return sessions, nil
}

func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	s.Lock()
	defer s.Unlock()

	now := time.Now()
	count := 0
	for key, entry := range s.sessions {
		if now.After(entry.expiresAt) || entry.session.Expired(s.ttl) {
			if err := s.deleteLocked(key); err == nil {
				count++
			}
		}
	}

	return count, nil
}
