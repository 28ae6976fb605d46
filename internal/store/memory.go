package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/session"
)

// MemoryStore is the in-process Store implementation. Records are deep
// copied on the way in and out so no caller ever holds a shared pointer
// into the map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	ttl      time.Duration
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store with the given inactivity
// TTL. A zero ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		ttl:      ttl,
	}
}

// expired reports whether s has been idle past the TTL.
func (m *MemoryStore) expired(s *session.Session) bool {
	return time.Since(s.UpdatedAt) > m.ttl
}

func (m *MemoryStore) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if m.expired(s) {
		// Lazy eviction: the sweeper may not have run yet.
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s does not exist", s.ID)
	}
	cp := s.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) FindCollecting(_ context.Context, userID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.State == session.StateCollectingReferences && !m.expired(s) {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

// StartSweeper runs a background loop that evicts idle sessions every
// interval until ctx is cancelled.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.sweep(); n > 0 {
					log.Info().Int("evicted", n).Msg("Expired sessions evicted")
				}
			}
		}
	}()
}

// sweep removes all expired sessions and returns how many were evicted.
func (m *MemoryStore) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}
