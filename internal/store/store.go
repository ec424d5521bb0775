// Package store persists chat sessions and their transcripts.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrOwnerMismatch reports a session id already claimed by another user.
	ErrOwnerMismatch = errors.New("session owned by another user")
	// ErrSequenceConflict reports that a concurrent writer advanced the
	// session past the sequence the caller observed.
	ErrSequenceConflict = errors.New("session sequence conflict")
)

// SessionStore is the durable mapping from session id to an owned,
// ordered transcript. All operations are atomic per session.
type SessionStore interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (chat.Session, error)

	// Create provisions a session. It is idempotent for the same owner
	// and returns ErrOwnerMismatch when the id belongs to someone else.
	Create(ctx context.Context, id, ownerID string) (chat.Session, error)

	// AppendTurns commits a user turn and its agent turn as one unit,
	// but only if the session's last sequence still equals expectedLastSeq.
	// Returns the new last sequence, or ErrSequenceConflict.
	AppendTurns(ctx context.Context, sessionID string, expectedLastSeq int, userTurn, agentTurn chat.Turn) (int, error)

	// Transcript returns all turns of a session, oldest first.
	Transcript(ctx context.Context, sessionID string) ([]chat.Turn, error)

	// ListByOwner returns a user's sessions, most recently updated first.
	ListByOwner(ctx context.Context, ownerID string) ([]chat.Session, error)
}
