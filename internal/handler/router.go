package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/flyerdeck/backend/internal/auth"
	"github.com/zhouzirui/flyerdeck/backend/internal/handler/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/flyerdeck/backend/internal/middleware"
	chatservice "github.com/zhouzirui/flyerdeck/backend/internal/service/chat"
	"github.com/zhouzirui/flyerdeck/backend/pkg/utils"
)

// Deps carries everything the router wires together. RateLimiter and
// Metrics are optional.
type Deps struct {
	Chat        *chatservice.Service
	Verifier    auth.Verifier
	RateLimiter *middlewarePkg.RateLimiter
	Metrics     http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	chatHandler := chat.New(deps.Chat)
	wsHandler := chat.NewWebSocket(deps.Chat)
	streamHandler := stream.New(deps.Chat)

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Middleware(deps.Verifier))
		if deps.RateLimiter != nil {
			api.Use(deps.RateLimiter.Middleware())
		}

		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/chats/{sessionID}/stream", func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			sessionID := chi.URLParam(r, "sessionID")
			message := r.URL.Query().Get("message")
			if message == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, identity.UserID, sessionID, message); err != nil {
				slog.Error("stream request failed", "error", err)
			}
		})
	})

	return r
}

// handleHealth 健康检查
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "flyerdeck-backend",
	})
}
