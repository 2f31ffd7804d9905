package state

import (
	"sort"

	"github.com/matheus3301/chatsync/internal/model"
)

// ServerTx is the write surface used when merging server deltas.
type ServerTx struct {
	s *Store
}

// Self returns the local user id.
func (tx *ServerTx) Self() string {
	return tx.s.self
}

// Conversation returns a conversation by id.
func (tx *ServerTx) Conversation(id string) (model.Conversation, bool) {
	if i := tx.s.conversationIndex(id); i >= 0 {
		return tx.s.conversations[i].Clone(), true
	}
	return model.Conversation{}, false
}

// PutConversation inserts or replaces a conversation and reports whether the
// id was unknown.
func (tx *ServerTx) PutConversation(c model.Conversation) bool {
	return putConversation(tx.s, c)
}

// Messages returns a copy of a conversation's message list.
func (tx *ServerTx) Messages(conversationID string) []model.Message {
	return cloneMessages(tx.s.messages[conversationID])
}

// SetMessages replaces a conversation's message list.
func (tx *ServerTx) SetMessages(conversationID string, msgs []model.Message) {
	tx.s.messages[conversationID] = msgs
}

// PendingEdit returns the active edit of a message.
func (tx *ServerTx) PendingEdit(messageID string) (PendingEdit, bool) {
	e, ok := tx.s.edits[messageID]
	return e, ok
}

// RecordServerText remembers the latest server text of a message under edit.
func (tx *ServerTx) RecordServerText(messageID, text string) {
	if e, ok := tx.s.edits[messageID]; ok {
		e.ServerText = text
		tx.s.edits[messageID] = e
	}
}

// ReplaceTyping swaps the typing snapshot.
func (tx *ServerTx) ReplaceTyping(typing map[string][]model.TypingEntry) {
	if typing == nil {
		typing = make(map[string][]model.TypingEntry)
	}
	tx.s.typing = typing
}

// ReplacePresence swaps the presence snapshot.
func (tx *ServerTx) ReplacePresence(presence map[string]bool) {
	if presence == nil {
		presence = make(map[string]bool)
	}
	tx.s.presence = presence
}

// LocalTx is the write surface used for locally originated changes: optimistic
// messages, edits, read receipts, drafts, uploads and navigation.
type LocalTx struct {
	s *Store
}

// Self returns the local user id.
func (tx *LocalTx) Self() string {
	return tx.s.self
}

// Conversation returns a conversation by id.
func (tx *LocalTx) Conversation(id string) (model.Conversation, bool) {
	if i := tx.s.conversationIndex(id); i >= 0 {
		return tx.s.conversations[i].Clone(), true
	}
	return model.Conversation{}, false
}

// PutConversation inserts or replaces a conversation created or changed
// locally and reports whether the id was unknown.
func (tx *LocalTx) PutConversation(c model.Conversation) bool {
	return putConversation(tx.s, c)
}

// Messages returns a copy of a conversation's message list.
func (tx *LocalTx) Messages(conversationID string) []model.Message {
	return cloneMessages(tx.s.messages[conversationID])
}

// FindMessage looks a message up across all conversations.
func (tx *LocalTx) FindMessage(id string) (model.Message, bool) {
	m, ok := tx.s.findMessage(id)
	if !ok {
		return model.Message{}, false
	}
	return m.Clone(), true
}

// AppendMessage adds a locally created message at the end of its conversation.
func (tx *LocalTx) AppendMessage(m model.Message) {
	tx.s.messages[m.ConversationID] = append(tx.s.messages[m.ConversationID], m)
}

// ReplaceMessage swaps the message with the given id in place. It reports
// false when the id is no longer present.
func (tx *LocalTx) ReplaceMessage(conversationID, id string, m model.Message) bool {
	msgs := tx.s.messages[conversationID]
	i := indexOf(msgs, id)
	if i < 0 {
		return false
	}
	msgs[i] = m
	return true
}

// UpdateMessage applies fn to a message in place.
func (tx *LocalTx) UpdateMessage(conversationID, id string, fn func(m *model.Message)) bool {
	msgs := tx.s.messages[conversationID]
	i := indexOf(msgs, id)
	if i < 0 {
		return false
	}
	fn(&msgs[i])
	return true
}

// RemoveMessage drops a message.
func (tx *LocalTx) RemoveMessage(conversationID, id string) bool {
	msgs := tx.s.messages[conversationID]
	i := indexOf(msgs, id)
	if i < 0 {
		return false
	}
	tx.s.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
	return true
}

// SortMessages restores createdAt order in a conversation.
func (tx *LocalTx) SortMessages(conversationID string) {
	SortByCreatedAt(tx.s.messages[conversationID])
}

// PendingEdit returns the active edit of a message.
func (tx *LocalTx) PendingEdit(messageID string) (PendingEdit, bool) {
	e, ok := tx.s.edits[messageID]
	return e, ok
}

// PutEdit stores an edit buffer.
func (tx *LocalTx) PutEdit(e PendingEdit) {
	tx.s.edits[e.MessageID] = e
}

// DeleteEdit drops an edit buffer.
func (tx *LocalTx) DeleteEdit(messageID string) {
	delete(tx.s.edits, messageID)
}

// Draft returns the draft of a conversation.
func (tx *LocalTx) Draft(conversationID string) model.Draft {
	d, ok := tx.s.drafts[conversationID]
	if !ok {
		return model.Draft{ConversationID: conversationID}
	}
	return d.Clone()
}

// PutDraft replaces the draft of a conversation.
func (tx *LocalTx) PutDraft(d model.Draft) {
	tx.s.drafts[d.ConversationID] = d.Clone()
}

// SetUploadProgress records the progress of an in-flight upload.
func (tx *LocalTx) SetUploadProgress(attachmentID string, p float64) {
	tx.s.uploading[attachmentID] = p
}

// UploadProgress returns the progress of an in-flight upload.
func (tx *LocalTx) UploadProgress(attachmentID string) (float64, bool) {
	p, ok := tx.s.uploading[attachmentID]
	return p, ok
}

// ClearUploadProgress forgets an upload.
func (tx *LocalTx) ClearUploadProgress(attachmentID string) {
	delete(tx.s.uploading, attachmentID)
}

// UploadsInFlight returns how many uploads have not resolved yet.
func (tx *LocalTx) UploadsInFlight() int {
	return len(tx.s.uploading)
}

// SetActive selects the active conversation.
func (tx *LocalTx) SetActive(conversationID string) {
	tx.s.active = conversationID
}

// SetOpen records whether the widget window is open.
func (tx *LocalTx) SetOpen(open bool) {
	tx.s.open = open
}

// SortByCreatedAt orders messages by createdAt ascending. Equal instants keep
// their current relative order.
func SortByCreatedAt(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func putConversation(s *Store, c model.Conversation) bool {
	c = c.Clone()
	if i := s.conversationIndex(c.ID); i >= 0 {
		s.conversations[i] = c
		return false
	}
	s.conversations = append(s.conversations, c)
	return true
}

func indexOf(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
