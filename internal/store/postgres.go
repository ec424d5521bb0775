package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
)

// PostgresStore 基于 PostgreSQL 的会话存储。
// AppendTurns serializes concurrent writers on the same session with a
// compare-and-set over chat_sessions.last_sequence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore over an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (chat.Session, error) {
	var session chat.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, last_sequence, created_at, updated_at
		 FROM chat_sessions
		 WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.OwnerID, &session.LastSequence, &session.CreatedAt, &session.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) Create(ctx context.Context, id, ownerID string) (chat.Session, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, owner_id, last_sequence, created_at, updated_at)
		 VALUES ($1, $2, -1, now(), now())
		 ON CONFLICT (id) DO NOTHING`,
		id, ownerID,
	)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return chat.Session{}, err
	}
	if session.OwnerID != ownerID {
		return chat.Session{}, ErrOwnerMismatch
	}
	return session, nil
}

func (s *PostgresStore) AppendTurns(ctx context.Context, sessionID string, expectedLastSeq int, userTurn, agentTurn chat.Turn) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newLast := expectedLastSeq + 2

	// The compare-and-set on last_sequence is the whole concurrency story:
	// a writer that lost the race matches zero rows here.
	res, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions
		 SET last_sequence = $1, updated_at = now()
		 WHERE id = $2 AND last_sequence = $3`,
		newLast, sessionID, expectedLastSeq,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to advance session sequence: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1)`,
			sessionID,
		).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to check session existence: %w", err)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrSequenceConflict
	}

	for i, turn := range []chat.Turn{userTurn, agentTurn} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_turns (session_id, sequence, role, content, created_at)
			 VALUES ($1, $2, $3, $4, now())`,
			sessionID, expectedLastSeq+1+i, string(turn.Role), turn.Content,
		); err != nil {
			return 0, fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turns: %w", err)
	}
	return newLast, nil
}

func (s *PostgresStore) Transcript(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, role, content, created_at
		 FROM chat_turns
		 WHERE session_id = $1
		 ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, 16)
	for rows.Next() {
		var turn chat.Turn
		var role string
		if err := rows.Scan(&turn.SessionID, &turn.Sequence, &role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = chat.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, last_sequence, created_at, updated_at
		 FROM chat_sessions
		 WHERE owner_id = $1
		 ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		var session chat.Session
		if err := rows.Scan(&session.ID, &session.OwnerID, &session.LastSequence, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

var _ SessionStore = (*PostgresStore)(nil)
