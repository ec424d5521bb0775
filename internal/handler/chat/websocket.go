package chat

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/flyerdeck/backend/internal/auth"
	chatservice "github.com/zhouzirui/flyerdeck/backend/internal/service/chat"
	"github.com/zhouzirui/flyerdeck/backend/pkg/utils"
)

// WebSocketHandler 基于WebSocket的聊天通道
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// NewWebSocket 创建WebSocket聊天处理器
func NewWebSocket(chatSvc *chatservice.Service) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/ws", h.handleWebSocket)
}

type inboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type outboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		if in.Type != "chat" {
			h.writeFrame(conn, outboundFrame{Type: "error", Error: "unsupported message type"})
			continue
		}

		reply, err := h.chatSvc.HandleStreaming(r.Context(), identity.UserID, in.SessionID, in.Message, chatservice.StreamCallbacks{
			OnStart: func(sessionID string) {
				h.writeFrame(conn, outboundFrame{Type: "start", SessionID: sessionID})
			},
			OnDelta: func(content string) {
				h.writeFrame(conn, outboundFrame{Type: "delta", Content: content})
			},
		})
		if err != nil {
			_, message := StatusForError(err)
			h.writeFrame(conn, outboundFrame{Type: "error", SessionID: in.SessionID, Error: message})
			continue
		}

		h.writeFrame(conn, outboundFrame{Type: "reply", SessionID: reply.SessionID, Content: reply.Text})
	}
}

func (h *WebSocketHandler) writeFrame(conn *websocket.Conn, frame outboundFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		slog.Warn("websocket write failed", "error", err)
	}
}
