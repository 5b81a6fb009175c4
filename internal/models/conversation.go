package models

import "time"

// Conversation is an ordered message history owned by exactly one user.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ConversationID string  `json:"conversation_id"`
	LastMessage    string  `json:"last_message"`
	Timestamp      float64 `json:"timestamp"`
}

// Summary reports the last message of the conversation, or an empty row.
func (c *Conversation) Summary() ConversationSummary {
	s := ConversationSummary{ConversationID: c.ID}
	if n := len(c.Messages); n > 0 {
		last := c.Messages[n-1]
		s.LastMessage = last.Text
		s.Timestamp = last.Timestamp
	}
	return s
}
