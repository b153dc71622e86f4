// Package chat exposes the conversation loop to interactive sessions. Chat
// runs the loop in single-turn mode: each call executes at most one round of
// tool calls, and the caller keeps polling until a turn completes without
// tools.
package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datamachine/engine/pkg/models"
)

// Session is one chat conversation.
type Session struct {
	ID        string                       `json:"id"`
	Title     string                       `json:"title,omitempty"`
	Messages  []models.ConversationMessage `json:"messages"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// SessionStore persists chat sessions.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, session *Session) error
	List(ctx context.Context) ([]*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore returns a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Create stores a new session, assigning an id when missing.
func (s *MemorySessionStore) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// Get returns a session by id.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return cloneSession(session), nil
}

// Update replaces a stored session.
func (s *MemorySessionStore) Update(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return fmt.Errorf("session %s not found", session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// List returns all sessions, most recently updated first.
func (s *MemorySessionStore) List(ctx context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		result = append(result, cloneSession(session))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func cloneSession(session *Session) *Session {
	clone := *session
	clone.Messages = make([]models.ConversationMessage, len(session.Messages))
	copy(clone.Messages, session.Messages)
	return &clone
}
