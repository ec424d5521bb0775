// Package stream serves chat replies over Server-Sent Events.
package stream

import (
	"context"
	"fmt"
	"net/http"

	chathandler "github.com/zhouzirui/flyerdeck/backend/internal/handler/chat"
	chatservice "github.com/zhouzirui/flyerdeck/backend/internal/service/chat"
	"github.com/zhouzirui/flyerdeck/backend/pkg/utils"
)

// Handler manages streaming chat responses via Server-Sent Events.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates a new stream handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// StreamResponse represents one SSE chunk.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest runs one exchange and forwards reply deltas to
// the client as they arrive. The turn pair is committed only after the
// full reply has streamed.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, userID, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	reply, err := h.chatSvc.HandleStreaming(ctx, userID, sessionID, message, chatservice.StreamCallbacks{
		OnStart: func(id string) {
			utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", SessionID: id})
		},
		OnDelta: func(content string) {
			utils.SendSSEChunk(w, flusher, StreamResponse{Event: "delta", SessionID: sessionID, Content: content})
		},
	})
	if err != nil {
		_, message := chathandler.StatusForError(err)
		utils.SendSSEChunk(w, flusher, StreamResponse{Event: "error", Error: message})
		return err
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: reply.SessionID,
		Content:   reply.Text,
	})
	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: reply.SessionID,
		Finished:  true,
	})
	return nil
}
