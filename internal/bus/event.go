package bus

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Kind names an event. Subscribers filter on kind prefixes such as "message.".
type Kind string

const (
	KindConversationAdded Kind = "conversation.added"
	KindMessageAdded      Kind = "message.added"
	KindMessageConfirmed  Kind = "message.confirmed"
	KindMessageSendFailed Kind = "message.send_failed"
	KindMessageRead       Kind = "message.read"
	KindMessageEdited     Kind = "message.edited"
	KindMessageDeleted    Kind = "message.deleted"
	KindTypingChanged     Kind = "typing.changed"
	KindUploadRejected    Kind = "upload.rejected"
	KindUploadCommitted   Kind = "upload.committed"
	KindUploadFailed      Kind = "upload.failed"
	KindDraftSaved        Kind = "draft.saved"
	KindSyncApplied       Kind = "sync.applied"
	KindSyncFailed        Kind = "sync.failed"
	KindStatusChanged     Kind = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// ConversationAdded is published for conversations seen for the first time.
type ConversationAdded struct {
	Conversation model.Conversation `json:"conversation"`
}

// MessageAdded is published for messages seen for the first time.
type MessageAdded struct {
	Message model.Message `json:"message"`
}

// MessageConfirmed is published when an optimistic send is replaced by the
// server copy.
type MessageConfirmed struct {
	TempID  string        `json:"tempId"`
	Message model.Message `json:"message"`
}

// MessageSendFailed is published when a send is rejected. The optimistic
// message stays visible in failed state.
type MessageSendFailed struct {
	ConversationID string `json:"conversationId"`
	TempID         string `json:"tempId"`
	Err            string `json:"error"`
}

// MessageEdited is published after the server accepted an edit.
type MessageEdited struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Text           string `json:"text"`
}

// MessageDeleted is published after the server accepted a deletion.
type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// ReadReceipt is published after the local user marked messages as read.
type ReadReceipt struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// TypingChanged carries the latest typing snapshot.
type TypingChanged struct {
	Entries []model.TypingEntry `json:"entries"`
}

// UploadRejected is published for files refused before any network call.
type UploadRejected struct {
	ConversationID string `json:"conversationId"`
	FileName       string `json:"fileName"`
	Reason         string `json:"reason"`
}

// UploadCommitted is published when the server returned the final attachment.
type UploadCommitted struct {
	ConversationID string           `json:"conversationId"`
	TempID         string           `json:"tempId"`
	Attachment     model.Attachment `json:"attachment"`
}

// UploadFailed is published when the upload call failed.
type UploadFailed struct {
	ConversationID string `json:"conversationId"`
	TempID         string `json:"tempId"`
	FileName       string `json:"fileName"`
	Err            string `json:"error"`
}

// DraftSaved is published after a draft was persisted remotely.
type DraftSaved struct {
	ConversationID string `json:"conversationId"`
}

// SyncApplied summarizes one applied delta.
type SyncApplied struct {
	Cursor           time.Time `json:"cursor"`
	Conversations    int       `json:"conversations"`
	Messages         int       `json:"messages"`
	NewConversations int       `json:"newConversations"`
	NewMessages      int       `json:"newMessages"`
}

// SyncFailed is published when a poll or full sync was dropped.
type SyncFailed struct {
	Cursor time.Time `json:"cursor"`
	Err    string    `json:"error"`
}
