// Package chat orchestrates one conversational exchange: resolve the
// session, assemble history, invoke the agent, then commit the user and
// agent turns as a single atomic append. The service holds no session
// state between calls.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/flyerdeck/backend/internal/history"
	"github.com/zhouzirui/flyerdeck/backend/internal/metrics"
	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/service/agent"
	"github.com/zhouzirui/flyerdeck/backend/internal/store"
)

var (
	ErrEmptyMessage     = errors.New("message is required")
	ErrPermissionDenied = errors.New("session belongs to another user")
	ErrSessionNotFound  = errors.New("session not found")
	// ErrConflict surfaces a lost optimistic-concurrency race after the
	// internal retry budget is spent. Safe to resubmit identically.
	ErrConflict = errors.New("session was updated concurrently")
)

// appendRetries bounds how often a lost append race is retried
// internally, re-running from history assembly onward.
const appendRetries = 1

// Gateway is the orchestrator's view of the agent boundary.
type Gateway interface {
	Invoke(ctx context.Context, window []chat.Turn, message string) (string, error)
}

// Service coordinates the chat pipeline over a SessionStore and a Gateway.
type Service struct {
	store        store.SessionStore
	gateway      Gateway
	recorder     metrics.Recorder
	historyLimit int
	autoCreate   bool
}

// Options tunes orchestration policy.
type Options struct {
	// HistoryLimit caps the context window passed to the agent.
	HistoryLimit int
	// AutoCreateSessions materializes unknown caller-supplied session
	// ids under the caller's identity. When false they are rejected.
	AutoCreateSessions bool
	Recorder           metrics.Recorder
}

// NewService wires the orchestrator.
func NewService(sessionStore store.SessionStore, gateway Gateway, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Noop{}
	}
	return &Service{
		store:        sessionStore,
		gateway:      gateway,
		recorder:     opts.Recorder,
		historyLimit: opts.HistoryLimit,
		autoCreate:   opts.AutoCreateSessions,
	}
}

// Reply is the outcome of one successful exchange.
type Reply struct {
	SessionID string
	Text      string
	// Created reports that this exchange opened the session.
	Created bool
}

// exchange carries the state read at the start of the pipeline through
// to the commit.
type exchange struct {
	session chat.Session
	window  []chat.Turn
	created bool
}

// Handle runs the full pipeline for one user message and returns the
// agent's reply. On agent failure nothing is persisted, so resubmitting
// the same message is safe.
func (s *Service) Handle(ctx context.Context, userID, sessionID, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		s.recorder.RecordChat(metrics.OutcomeInvalidInput)
		return Reply{}, ErrEmptyMessage
	}
	if s.gateway == nil {
		s.recorder.RecordChat(metrics.OutcomeAgentUnavailable)
		return Reply{}, fmt.Errorf("%w: agent not configured", agent.ErrUnavailable)
	}

	generated := false
	if sessionID == "" {
		sessionID = uuid.NewString()
		generated = true
	}

	for attempt := 0; ; attempt++ {
		ex, err := s.begin(ctx, userID, sessionID, generated)
		if err != nil {
			s.record(err)
			return Reply{}, err
		}

		start := time.Now()
		replyText, err := s.gateway.Invoke(ctx, ex.window, message)
		s.recorder.RecordAgentLatency(time.Since(start))
		if err != nil {
			s.record(err)
			return Reply{}, err
		}

		reply, err := s.commit(ctx, ex, message, replyText)
		if errors.Is(err, ErrConflict) && attempt < appendRetries {
			// Lost the race: re-read the session and re-run from
			// history assembly, the context has changed.
			continue
		}
		if err != nil {
			s.record(err)
			return Reply{}, err
		}

		s.recorder.RecordChat(metrics.OutcomeOK)
		return reply, nil
	}
}

// begin resolves or creates the session, checks ownership and builds
// the context window.
func (s *Service) begin(ctx context.Context, userID, sessionID string, generated bool) (exchange, error) {
	session, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		if !s.autoCreate && !generated {
			return exchange{}, ErrSessionNotFound
		}
		session, err = s.store.Create(ctx, sessionID, userID)
		if errors.Is(err, store.ErrOwnerMismatch) {
			return exchange{}, ErrPermissionDenied
		}
		if err != nil {
			return exchange{}, fmt.Errorf("failed to create session: %w", err)
		}
		return exchange{session: session, created: true}, nil
	}
	if err != nil {
		return exchange{}, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session.OwnerID != userID {
		return exchange{}, ErrPermissionDenied
	}

	transcript, err := s.store.Transcript(ctx, sessionID)
	if err != nil {
		return exchange{}, fmt.Errorf("failed to load transcript: %w", err)
	}

	return exchange{
		session: session,
		window:  history.Window(transcript, s.historyLimit),
	}, nil
}

// commit appends the turn pair, guarded by the sequence observed in begin.
func (s *Service) commit(ctx context.Context, ex exchange, message, replyText string) (Reply, error) {
	// A caller that went away while the agent call was in flight must
	// not have the exchange committed on its behalf.
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	userTurn := chat.Turn{Role: chat.RoleUser, Content: message}
	agentTurn := chat.Turn{Role: chat.RoleAgent, Content: replyText}

	_, err := s.store.AppendTurns(ctx, ex.session.ID, ex.session.LastSequence, userTurn, agentTurn)
	if errors.Is(err, store.ErrSequenceConflict) {
		s.recorder.RecordSequenceConflict()
		return Reply{}, ErrConflict
	}
	if err != nil {
		return Reply{}, fmt.Errorf("failed to append turns: %w", err)
	}

	return Reply{SessionID: ex.session.ID, Text: replyText, Created: ex.created}, nil
}

// Transcript returns a session's turns after checking ownership.
func (s *Service) Transcript(ctx context.Context, userID, sessionID string) ([]chat.Turn, error) {
	session, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session.OwnerID != userID {
		return nil, ErrPermissionDenied
	}
	return s.store.Transcript(ctx, sessionID)
}

// previewRunes caps the sidebar preview taken from the first user turn.
const previewRunes = 50

// ListSessions returns the user's sessions with a first-message preview.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]chat.SessionSummary, error) {
	sessions, err := s.store.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]chat.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		preview := "New chat"
		transcript, err := s.store.Transcript(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load transcript: %w", err)
		}
		for _, turn := range transcript {
			if turn.Role == chat.RoleUser {
				preview = truncateRunes(turn.Content, previewRunes)
				break
			}
		}
		summaries = append(summaries, chat.SessionSummary{SessionID: session.ID, Preview: preview})
	}
	return summaries, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// record maps a pipeline error onto the chat outcome counter.
func (s *Service) record(err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		s.recorder.RecordChat(metrics.OutcomeInvalidInput)
	case errors.Is(err, ErrPermissionDenied):
		s.recorder.RecordChat(metrics.OutcomePermissionDenied)
	case errors.Is(err, ErrSessionNotFound):
		s.recorder.RecordChat(metrics.OutcomeNotFound)
	case errors.Is(err, ErrConflict):
		s.recorder.RecordChat(metrics.OutcomeConflict)
	case errors.Is(err, agent.ErrUnavailable):
		s.recorder.RecordChat(metrics.OutcomeAgentUnavailable)
	case errors.Is(err, agent.ErrRejected):
		s.recorder.RecordChat(metrics.OutcomeAgentRejected)
	default:
		s.recorder.RecordChat(metrics.OutcomeError)
	}
}
