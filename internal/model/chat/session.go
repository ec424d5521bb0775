package chat

import "time"

// Session is one durable conversation owned by a single user.
// LastSequence mirrors the newest turn's sequence, -1 for an empty transcript.
type Session struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	LastSequence int       `json:"lastSequence"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SessionSummary 会话列表条目，preview 为该会话的首条用户消息摘要。
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Preview   string `json:"preview"`
}
