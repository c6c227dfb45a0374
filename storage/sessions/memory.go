package sessions

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/core/auth"
)

// MemoryStore is the single process auth.Store, used when no redis is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]auth.RefreshSession
	states   map[string]auth.OAuthState
}

var _ auth.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]auth.RefreshSession),
		states:   make(map[string]auth.OAuthState),
	}
}

func (s *MemoryStore) SaveSession(_ context.Context, sess auth.RefreshSession) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	if sess.Expired() {
		return errors.Wrap(errExpired, "saving session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (auth.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return auth.RefreshSession{}, auth.ErrNotFound
	}
	if sess.Expired() {
		delete(s.sessions, id)
		return auth.RefreshSession{}, auth.ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) SaveState(_ context.Context, state auth.OAuthState) error {
	if state.State == "" {
		return errors.New("state cannot be empty")
	}
	if state.Expired() {
		return errors.Wrap(errExpired, "saving oauth state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.State] = state
	return nil
}

func (s *MemoryStore) PopState(_ context.Context, state string) (auth.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return auth.OAuthState{}, auth.ErrNotFound
	}
	delete(s.states, state)
	if st.Expired() {
		return auth.OAuthState{}, auth.ErrNotFound
	}
	return st, nil
}
