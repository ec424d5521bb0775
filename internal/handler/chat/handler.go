package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/flyerdeck/backend/internal/auth"
	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/service/agent"
	chatservice "github.com/zhouzirui/flyerdeck/backend/internal/service/chat"
	"github.com/zhouzirui/flyerdeck/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatservice.Service
}

// New 创建聊天处理器
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chats", h.handleChat)
	r.Get("/history/{sessionID}", h.handleHistory)
	r.Get("/sessions", h.handleSessions)
}

// handleChat 处理一次完整的对话交换
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.Handle(r.Context(), identity.UserID, payload.SessionID, payload.Message)
	if err != nil {
		status, message := StatusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("chat orchestration failed", "error", err)
		}
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"user_id":    identity.UserID,
		"session_id": reply.SessionID,
		"reply":      reply.Text,
	})
}

// handleHistory 返回指定会话的完整对话记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	transcript, err := h.chatSvc.Transcript(r.Context(), identity.UserID, sessionID)
	if err != nil {
		status, message := StatusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("failed to load history", "error", err)
		}
		utils.RespondError(w, status, message)
		return
	}

	conversation := make([]map[string]string, 0, len(transcript))
	for _, turn := range transcript {
		conversation = append(conversation, map[string]string{
			"role":    string(turn.Role),
			"content": turn.Content,
		})
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id":   sessionID,
		"conversation": conversation,
	})
}

// handleSessions 返回当前用户的会话列表（侧边栏用）
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), identity.UserID)
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []chat.SessionSummary{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"user_id":  identity.UserID,
		"sessions": sessions,
	})
}

// StatusForError maps pipeline errors onto HTTP statuses and messages
// safe to show a caller.
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, chatservice.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, chatservice.ErrPermissionDenied):
		return http.StatusForbidden, "session belongs to another user"
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, chatservice.ErrConflict):
		return http.StatusConflict, "session was updated concurrently, retry the request"
	case errors.Is(err, agent.ErrUnavailable):
		return http.StatusServiceUnavailable, "agent unavailable, retry later"
	case errors.Is(err, agent.ErrRejected):
		return http.StatusUnprocessableEntity, "agent rejected the request"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
