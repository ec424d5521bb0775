package chat_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/flyerdeck/backend/internal/auth"
	chathandler "github.com/zhouzirui/flyerdeck/backend/internal/handler/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/service/agent"
	chatservice "github.com/zhouzirui/flyerdeck/backend/internal/service/chat"
	"github.com/zhouzirui/flyerdeck/backend/internal/store"
)

type stubGateway struct {
	reply string
	err   error
}

func (g *stubGateway) Invoke(context.Context, []chat.Turn, string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func newTestServer(st store.SessionStore, gw chatservice.Gateway) http.Handler {
	svc := chatservice.NewService(st, gw, chatservice.Options{AutoCreateSessions: true})

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Middleware(auth.InsecureVerifier{}))
		chathandler.New(svc).RegisterRoutes(api)
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestChatEndpointNewSession(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestServer(st, &stubGateway{reply: "your flyer is ready"})

	rec, body := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": "make a flyer"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body["user_id"] != "alice" {
		t.Fatalf("user_id = %v", body["user_id"])
	}
	if body["reply"] != "your flyer is ready" {
		t.Fatalf("reply = %v", body["reply"])
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("missing session_id")
	}

	turns, err := st.Transcript(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(turns))
	}
}

func TestChatEndpointRequiresAuth(t *testing.T) {
	h := newTestServer(store.NewMemoryStore(), &stubGateway{reply: "x"})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "", `{"message": "hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	h := newTestServer(store.NewMemoryStore(), &stubGateway{reply: "x"})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatEndpointRejectsMalformedBody(t *testing.T) {
	h := newTestServer(store.NewMemoryStore(), &stubGateway{reply: "x"})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatEndpointForeignSession(t *testing.T) {
	st := store.NewMemoryStore()
	if _, err := st.Create(context.Background(), "bobs-session", "bob"); err != nil {
		t.Fatalf("Create err: %v", err)
	}
	h := newTestServer(st, &stubGateway{reply: "x"})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"session_id": "bobs-session", "message": "hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestChatEndpointAgentUnavailable(t *testing.T) {
	gw := &stubGateway{err: fmt.Errorf("%w: connect timeout", agent.ErrUnavailable)}
	h := newTestServer(store.NewMemoryStore(), gw)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": "hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestChatEndpointAgentRejected(t *testing.T) {
	gw := &stubGateway{err: fmt.Errorf("%w: malformed output", agent.ErrRejected)}
	h := newTestServer(store.NewMemoryStore(), gw)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": "hi"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestServer(st, &stubGateway{reply: "a design"})

	rec, body := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": "first message"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	sessionID := body["session_id"].(string)

	rec, body = doJSON(t, h, http.MethodGet, "/api/history/"+sessionID, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d, body = %s", rec.Code, rec.Body.String())
	}
	conversation, ok := body["conversation"].([]any)
	if !ok || len(conversation) != 2 {
		t.Fatalf("conversation = %v", body["conversation"])
	}
	first := conversation[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "first message" {
		t.Fatalf("unexpected first entry: %v", first)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/history/"+sessionID, "bob", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign history status = %d, want 403", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/history/nonexistent", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing history status = %d, want 404", rec.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestServer(st, &stubGateway{reply: "ok"})

	rec, _ := doJSON(t, h, http.MethodGet, "/api/sessions", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var listing struct {
		UserID   string                `json:"user_id"`
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if listing.Sessions == nil || len(listing.Sessions) != 0 {
		t.Fatalf("expected empty array, got %v", listing.Sessions)
	}

	if rec, _ := doJSON(t, h, http.MethodPost, "/api/chats", "alice", `{"message": "plan a picnic flyer"}`); rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/sessions", "alice", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(listing.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(listing.Sessions))
	}
	if listing.Sessions[0].Preview != "plan a picnic flyer" {
		t.Fatalf("preview = %q", listing.Sessions[0].Preview)
	}
}
