package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/flyerdeck/backend/internal/metrics"
	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/service/agent"
)

// StreamingGateway is the optional streaming side of the agent boundary.
type StreamingGateway interface {
	Gateway
	Stream(ctx context.Context, window []chat.Turn, message string) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// StreamCallbacks receives progress while a streamed exchange runs.
// Either callback may be nil.
type StreamCallbacks struct {
	OnStart func(sessionID string)
	OnDelta func(content string)
}

// HandleStreaming runs the pipeline like Handle but forwards reply
// deltas as they arrive. The turn pair still commits only after the
// full reply is assembled; a lost append race surfaces as ErrConflict
// without an internal retry, since streamed deltas cannot be replayed.
func (s *Service) HandleStreaming(ctx context.Context, userID, sessionID, message string, cb StreamCallbacks) (Reply, error) {
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

	ex, err := s.begin(ctx, userID, sessionID, generated)
	if err != nil {
		s.record(err)
		return Reply{}, err
	}
	if cb.OnStart != nil {
		cb.OnStart(ex.session.ID)
	}

	start := time.Now()
	replyText, err := s.produceReply(ctx, ex.window, message, cb)
	s.recorder.RecordAgentLatency(time.Since(start))
	if err != nil {
		s.record(err)
		return Reply{}, err
	}

	reply, err := s.commit(ctx, ex, message, replyText)
	if err != nil {
		s.record(err)
		return Reply{}, err
	}

	s.recorder.RecordChat(metrics.OutcomeOK)
	return reply, nil
}

// produceReply drains the stream into the full reply text, falling back
// to a single invocation when the gateway does not stream.
func (s *Service) produceReply(ctx context.Context, window []chat.Turn, message string, cb StreamCallbacks) (string, error) {
	sg, ok := s.gateway.(StreamingGateway)
	if !ok || !sg.StreamingEnabled() {
		replyText, err := s.gateway.Invoke(ctx, window, message)
		if err != nil {
			return "", err
		}
		if cb.OnDelta != nil {
			cb.OnDelta(replyText)
		}
		return replyText, nil
	}

	stream, err := sg.Stream(ctx, window, message)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", fmt.Errorf("%w: %v", agent.ErrUnavailable, recvErr)
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" && cb.OnDelta != nil {
			cb.OnDelta(chunk.Content)
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("failed to concatenate stream chunks: %w", err)
	}
	return response.Content, nil
}
