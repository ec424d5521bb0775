package chat

import "time"

// Role identifies which side of the conversation produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is a single message within a session transcript. Sequence is
// 0-based and contiguous; a user turn and the agent turn answering it
// are always persisted together.
type Turn struct {
	SessionID string    `json:"sessionId"`
	Sequence  int       `json:"sequence"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
