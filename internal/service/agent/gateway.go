// Package agent wraps the external language model behind a narrow
// request/response boundary. The gateway never touches session state;
// persistence stays with the chat orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/flyerdeck/backend/internal/config"
	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
)

var (
	// ErrUnavailable marks transient failures (network, timeout). Safe
	// to resubmit the same message: nothing was persisted.
	ErrUnavailable = errors.New("agent unavailable")
	// ErrRejected marks a deterministic failure; retrying the identical
	// request would not change the outcome.
	ErrRejected = errors.New("agent rejected the request")
)

// chainRunner is the slice of compose.Runnable the gateway needs.
// Narrowed so tests can substitute the compiled chain.
type chainRunner interface {
	Invoke(ctx context.Context, input map[string]any, opts ...compose.Option) (*schema.Message, error)
	Stream(ctx context.Context, input map[string]any, opts ...compose.Option) (*schema.StreamReader[*schema.Message], error)
}

// Gateway invokes the design agent with a bounded timeout and at most
// one retry on transient failure.
type Gateway struct {
	chain         chainRunner
	timeout       time.Duration
	systemPrompt  string
	validateReply bool
	streaming     bool
}

// New compiles the prompt-template -> chat-model chain and returns the
// gateway around it.
func New(ctx context.Context, aiCfg config.AIConfig, agentCfg config.AgentConfig) (*Gateway, error) {
	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	systemPrompt := agentCfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &Gateway{
		chain:         runnable,
		timeout:       time.Duration(agentCfg.TimeoutSeconds) * time.Second,
		systemPrompt:  systemPrompt,
		validateReply: agentCfg.ValidateReply,
		streaming:     aiCfg.StreamResponse,
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (g *Gateway) StreamingEnabled() bool {
	return g.streaming
}

// Invoke runs the chain over the context window and the new message and
// returns the reply text. Failures come back as ErrUnavailable or
// ErrRejected; the orchestrator's retry policy keys off that split.
func (g *Gateway) Invoke(ctx context.Context, history []chat.Turn, message string) (string, error) {
	input := g.chainInput(history, message)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.chain.Invoke(ctx, input)
	if err != nil && ctx.Err() == nil && isTransient(err) {
		slog.Warn("transient agent failure, retrying once", "error", err)
		response, err = g.chain.Invoke(ctx, input)
	}
	if err != nil {
		return "", classify(ctx, err)
	}

	reply := response.Content
	if g.validateReply {
		if verr := ValidateReplyShape(reply); verr != nil {
			return "", fmt.Errorf("%w: %v", ErrRejected, verr)
		}
	}
	return reply, nil
}

// Stream runs the chain in streaming mode. The caller owns the reader
// and the surrounding context; the invoke timeout does not apply here.
func (g *Gateway) Stream(ctx context.Context, history []chat.Turn, message string) (*schema.StreamReader[*schema.Message], error) {
	if !g.streaming {
		return nil, fmt.Errorf("%w: streaming disabled in configuration", ErrUnavailable)
	}

	stream, err := g.chain.Stream(ctx, g.chainInput(history, message))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return stream, nil
}

func (g *Gateway) chainInput(history []chat.Turn, message string) map[string]any {
	return map[string]any{
		"system":  g.systemPrompt,
		"history": toSchemaMessages(history),
		"query":   message,
	}
}

func toSchemaMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.RoleAgent:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}

// classify folds an invocation error into the gateway's two failure kinds.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || isTransient(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrRejected, err)
}

// isTransient reports whether a failure is in the network/timeout class
// and therefore worth a single retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// Provider SDK errors do not always unwrap to a net.Error.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "temporarily unavailable", "connection reset", "too many requests", "service unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
