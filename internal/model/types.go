package model

import (
	"strings"
	"time"
)

// TempIDPrefix marks identifiers generated locally before server confirmation.
// Server ids never carry it.
const TempIDPrefix = "temp_"

// IsTemporaryID reports whether id was generated locally.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Channels selects the delivery channels of a message.
type Channels struct {
	SMS      bool `json:"sms"`
	WhatsApp bool `json:"whatsapp"`
	Email    bool `json:"email"`
}

// Conversation represents a synced conversation.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}

// SeenReceipt records when a user saw a message.
type SeenReceipt struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// DeliveryState tags a message as confirmed by the server or still local.
type DeliveryState string

const (
	Confirmed  DeliveryState = "confirmed"
	Optimistic DeliveryState = "optimistic"
	Failed     DeliveryState = "failed"
)

// Message represents a message in a conversation. Delivery is local only and
// never travels over the wire.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	AuthorID       string        `json:"authorId"`
	Text           string        `json:"text"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Attachments    []Attachment  `json:"attachments"`
	Channels       Channels      `json:"channels"`
	SeenBy         []SeenReceipt `json:"seenBy"`
	System         bool          `json:"system,omitempty"`
	Delivery       DeliveryState `json:"-"`
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	m.Attachments = CloneAttachments(m.Attachments)
	m.SeenBy = append([]SeenReceipt(nil), m.SeenBy...)
	return m
}

// SeenByUser returns the receipt of userID, if any.
func (m Message) SeenByUser(userID string) (SeenReceipt, bool) {
	for _, s := range m.SeenBy {
		if s.UserID == userID {
			return s, true
		}
	}
	return SeenReceipt{}, false
}

// MarkSeen inserts or refreshes the receipt of userID.
func (m *Message) MarkSeen(userID string, at time.Time) {
	for i := range m.SeenBy {
		if m.SeenBy[i].UserID == userID {
			m.SeenBy[i].At = at
			return
		}
	}
	m.SeenBy = append(m.SeenBy, SeenReceipt{UserID: userID, At: at})
}

// Pending reports whether the message still carries a temporary id.
func (m Message) Pending() bool {
	return IsTemporaryID(m.ID)
}

// AttachmentState is the local lifecycle of an attachment.
type AttachmentState string

const (
	AttachmentPending   AttachmentState = "pending"
	AttachmentUploading AttachmentState = "uploading"
	AttachmentCommitted AttachmentState = "committed"
	AttachmentFailed    AttachmentState = "failed"
)

// Attachment is a file attached to a draft or message. URL stays empty until
// the server commits the upload.
type Attachment struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Size  int64           `json:"size"`
	Type  string          `json:"type"`
	URL   string          `json:"url,omitempty"`
	State AttachmentState `json:"-"`
}

// CloneAttachments copies a slice of attachments.
func CloneAttachments(in []Attachment) []Attachment {
	if in == nil {
		return nil
	}
	return append([]Attachment(nil), in...)
}

// Draft is the composition buffer of one conversation.
type Draft struct {
	ConversationID string       `json:"conversationId,omitempty"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments"`
}

// Clone returns a deep copy.
func (d Draft) Clone() Draft {
	d.Attachments = CloneAttachments(d.Attachments)
	return d
}

// IsEmpty reports whether there is nothing to send.
func (d Draft) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Attachments) == 0
}

// TypingEntry says a user is typing in a conversation until an instant.
type TypingEntry struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Until          time.Time `json:"until"`
}

// PresenceEntry is one row of a presence snapshot.
type PresenceEntry struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Changes is the delta returned by the poll endpoint.
type Changes struct {
	Conversations []Conversation  `json:"conversations"`
	Messages      []Message       `json:"messages"`
	Typing        []TypingEntry   `json:"typing"`
	Presence      []PresenceEntry `json:"presence"`
}

// ChangeSet pairs a delta with the server instant it was computed at.
type ChangeSet struct {
	Changes    Changes   `json:"changes"`
	ServerTime time.Time `json:"serverTime"`
}

// SendRequest is the payload of the send endpoint. ScheduleIn is expressed in
// seconds from now; nil sends immediately.
type SendRequest struct {
	ConversationID string       `json:"conversationId"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments"`
	Channels       Channels     `json:"channels"`
	ScheduleIn     *int64       `json:"scheduleIn,omitempty"`
}

// User is a search result.
type User struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// File is a local file selected for upload.
type File struct {
	Name string
	Size int64
	Type string
	Data []byte
}
