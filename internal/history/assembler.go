// Package history builds the bounded context window sent to the agent.
package history

import "github.com/zhouzirui/flyerdeck/backend/internal/model/chat"

// Window returns the most recent limit turns, oldest first. The result
// is always a suffix of the input; relative order is never changed.
func Window(turns []chat.Turn, limit int) []chat.Turn {
	if limit <= 0 || len(turns) == 0 {
		return nil
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	window := make([]chat.Turn, len(turns))
	copy(window, turns)
	return window
}
