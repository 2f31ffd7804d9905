package store

import "github.com/matheus3301/chatsync/internal/model"

// Outbox statuses. An entry is queued when the optimistic message is shown
// and resolves exactly once.
const (
	OutboxQueued = "queued"
	OutboxSent   = "sent"
	OutboxFailed = "failed"
)

// OutboxEntry records one send attempt.
type OutboxEntry struct {
	ID             int64  `json:"id"`
	TempID         string `json:"tempId"`
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage"`
	ServerMsgID    string `json:"serverMsgId"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message model.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Conversations int            `json:"conversations"`
	Messages      int            `json:"messages"`
	Outbox        map[string]int `json:"outbox"`
	Cursor        string         `json:"cursor"`
}
