package stream_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/flyerdeck/backend/internal/handler/stream"
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

func decodeEvents(t *testing.T, body string) []stream.StreamResponse {
	t.Helper()

	var events []stream.StreamResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event stream.StreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad SSE payload %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func TestStreamRequestEmitsLifecycleEvents(t *testing.T) {
	st := store.NewMemoryStore()
	svc := chatservice.NewService(st, &stubGateway{reply: "a fine flyer"}, chatservice.Options{AutoCreateSessions: true})
	h := stream.New(svc)
	rec := httptest.NewRecorder()

	if err := h.HandleStreamRequest(context.Background(), rec, "alice", "", "make a flyer"); err != nil {
		t.Fatalf("HandleStreamRequest err: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	events := decodeEvents(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("event count = %d, want 4: %+v", len(events), events)
	}
	if events[0].Event != "start" || events[0].SessionID == "" {
		t.Fatalf("unexpected start event: %+v", events[0])
	}
	if events[1].Event != "delta" || events[1].Content != "a fine flyer" {
		t.Fatalf("unexpected delta event: %+v", events[1])
	}
	if events[2].Event != "message" || events[2].Content != "a fine flyer" {
		t.Fatalf("unexpected message event: %+v", events[2])
	}
	if events[3].Event != "end" || !events[3].Finished {
		t.Fatalf("unexpected end event: %+v", events[3])
	}

	turns, err := st.Transcript(context.Background(), events[0].SessionID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(turns))
	}
}

func TestStreamRequestEmitsErrorEvent(t *testing.T) {
	gw := &stubGateway{err: fmt.Errorf("%w: connect timeout", agent.ErrUnavailable)}
	svc := chatservice.NewService(store.NewMemoryStore(), gw, chatservice.Options{AutoCreateSessions: true})
	h := stream.New(svc)
	rec := httptest.NewRecorder()

	if err := h.HandleStreamRequest(context.Background(), rec, "alice", "", "hi"); err == nil {
		t.Fatal("expected the pipeline error to be returned")
	}

	events := decodeEvents(t, rec.Body.String())
	last := events[len(events)-1]
	if last.Event != "error" || last.Error == "" {
		t.Fatalf("expected a terminal error event, got %+v", last)
	}
}
