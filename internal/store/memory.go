package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory. Used by tests and when
// no DATABASE_URL is configured; transcripts do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	turns    map[string][]chat.Turn
}

// NewMemoryStore bootstraps an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		turns:    make(map[string][]chat.Turn),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) Create(_ context.Context, id, ownerID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		if existing.OwnerID != ownerID {
			return chat.Session{}, ErrOwnerMismatch
		}
		return existing, nil
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:           id,
		OwnerID:      ownerID,
		LastSequence: -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.sessions[id] = session
	s.turns[id] = make([]chat.Turn, 0, 16)
	return session, nil
}

func (s *MemoryStore) AppendTurns(_ context.Context, sessionID string, expectedLastSeq int, userTurn, agentTurn chat.Turn) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if session.LastSequence != expectedLastSeq {
		return 0, ErrSequenceConflict
	}

	now := time.Now().UTC()
	userTurn.SessionID = sessionID
	userTurn.Sequence = expectedLastSeq + 1
	agentTurn.SessionID = sessionID
	agentTurn.Sequence = expectedLastSeq + 2
	if userTurn.CreatedAt.IsZero() {
		userTurn.CreatedAt = now
	}
	if agentTurn.CreatedAt.IsZero() {
		agentTurn.CreatedAt = now
	}

	s.turns[sessionID] = append(s.turns[sessionID], userTurn, agentTurn)
	session.LastSequence = agentTurn.Sequence
	session.UpdatedAt = now
	s.sessions[sessionID] = session

	return session.LastSequence, nil
}

func (s *MemoryStore) Transcript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

var _ SessionStore = (*MemoryStore)(nil)
