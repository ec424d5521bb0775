package history_test

import (
	"fmt"
	"testing"

	"github.com/zhouzirui/flyerdeck/backend/internal/history"
	"github.com/zhouzirui/flyerdeck/backend/internal/model/chat"
)

func makeTurns(n int) []chat.Turn {
	turns := make([]chat.Turn, n)
	for i := range turns {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAgent
		}
		turns[i] = chat.Turn{Sequence: i, Role: role, Content: fmt.Sprintf("turn-%d", i)}
	}
	return turns
}

func TestWindowReturnsAllWhenUnderLimit(t *testing.T) {
	turns := makeTurns(3)

	window := history.Window(turns, 10)

	if len(window) != 3 {
		t.Fatalf("window length = %d, want 3", len(window))
	}
	for i, turn := range window {
		if turn.Sequence != i {
			t.Fatalf("order changed at %d: sequence %d", i, turn.Sequence)
		}
	}
}

func TestWindowIsSuffixOfTranscript(t *testing.T) {
	turns := makeTurns(12)

	window := history.Window(turns, 4)

	if len(window) != 4 {
		t.Fatalf("window length = %d, want 4", len(window))
	}
	for i, turn := range window {
		if turn.Sequence != 8+i {
			t.Fatalf("expected suffix starting at 8, got sequence %d at %d", turn.Sequence, i)
		}
	}
}

func TestWindowEmptyInputs(t *testing.T) {
	if got := history.Window(nil, 5); got != nil {
		t.Fatalf("expected nil for empty transcript, got %v", got)
	}
	if got := history.Window(makeTurns(3), 0); got != nil {
		t.Fatalf("expected nil for zero limit, got %v", got)
	}
}

func TestWindowDoesNotAliasInput(t *testing.T) {
	turns := makeTurns(6)

	window := history.Window(turns, 3)
	window[0].Content = "mutated"

	if turns[3].Content == "mutated" {
		t.Fatal("window shares backing array with transcript")
	}
}
