// Package state holds the widget's single in-memory view of conversations,
// messages, drafts, typing, presence, upload progress and pending edits.
//
// Writers never touch the maps directly. Server data is merged through
// MergeServer and locally originated data through MutateLocal; each callback
// receives a transaction type exposing only the commands meant for that writer.
// Reads return copies and are safe from any goroutine.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// PendingEdit is an unsaved replacement text for a message. ServerText keeps
// the last text the server reported so a discarded edit can be undone.
type PendingEdit struct {
	MessageID      string
	ConversationID string
	Text           string
	ServerText     string
}

// Store is the widget state.
type Store struct {
	mu            sync.RWMutex
	self          string
	conversations []model.Conversation
	messages      map[string][]model.Message
	drafts        map[string]model.Draft
	uploading     map[string]float64
	typing        map[string][]model.TypingEntry
	presence      map[string]bool
	edits         map[string]PendingEdit
	active        string
	open          bool
}

// New creates an empty store for the local user selfID.
func New(selfID string) *Store {
	return &Store{
		self:      selfID,
		messages:  make(map[string][]model.Message),
		drafts:    make(map[string]model.Draft),
		uploading: make(map[string]float64),
		typing:    make(map[string][]model.TypingEntry),
		presence:  make(map[string]bool),
		edits:     make(map[string]PendingEdit),
	}
}

// Self returns the local user id.
func (s *Store) Self() string {
	return s.self
}

// MergeServer runs fn with exclusive access for merging server deltas.
func (s *Store) MergeServer(fn func(tx *ServerTx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&ServerTx{s: s})
}

// MutateLocal runs fn with exclusive access for locally originated changes.
func (s *Store) MutateLocal(fn func(tx *LocalTx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&LocalTx{s: s})
}

// Conversations returns conversations in arrival order.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	return out
}

// ConversationsByActivity returns conversations most recently updated first.
func (s *Store) ConversationsByActivity() []model.Conversation {
	out := s.Conversations()
	sort.SliceStable(out, func(i, j int) bool {
		return activity(out[i]).After(activity(out[j]))
	})
	return out
}

// Conversation returns a conversation by id.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.conversationIndex(id); i >= 0 {
		return s.conversations[i].Clone(), true
	}
	return model.Conversation{}, false
}

// Messages returns the messages of a conversation ordered by createdAt.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages[conversationID])
}

// Message returns a message of a conversation by id.
func (s *Store) Message(conversationID, id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if i := indexOf(msgs, id); i >= 0 {
		return msgs[i].Clone(), true
	}
	return model.Message{}, false
}

// FindMessage looks a message up across all conversations.
func (s *Store) FindMessage(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.findMessage(id); ok {
		return m.Clone(), true
	}
	return model.Message{}, false
}

// Draft returns the draft of a conversation; missing drafts are empty.
func (s *Store) Draft(conversationID string) model.Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[conversationID]
	if !ok {
		return model.Draft{ConversationID: conversationID}
	}
	return d.Clone()
}

// UploadProgress returns the progress of an in-flight upload.
func (s *Store) UploadProgress(attachmentID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.uploading[attachmentID]
	return p, ok
}

// UploadsInFlight returns how many uploads have not resolved yet.
func (s *Store) UploadsInFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploading)
}

// Typing returns the typing entries of a conversation.
func (s *Store) Typing(conversationID string) []model.TypingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TypingEntry(nil), s.typing[conversationID]...)
}

// TypingUsers returns the ids of users other than the local one typing in a
// conversation.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, t := range s.typing[conversationID] {
		if t.UserID != s.self {
			out = append(out, t.UserID)
		}
	}
	return out
}

// Online reports the presence of a user.
func (s *Store) Online(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence[userID]
}

// Presence returns a copy of the presence map.
func (s *Store) Presence() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out
}

// OnlineInConversation reports whether any other participant is online.
func (s *Store) OnlineInConversation(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.conversationIndex(conversationID)
	if i < 0 {
		return false
	}
	for _, p := range s.conversations[i].Participants {
		if p != s.self && s.presence[p] {
			return true
		}
	}
	return false
}

// PendingEdit returns the active edit of a message.
func (s *Store) PendingEdit(messageID string) (PendingEdit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edits[messageID]
	return e, ok
}

// Active returns the id of the active conversation.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// IsOpen reports whether the widget window is open.
func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// UnreadCount counts messages authored by others that the local user has not
// seen, across all conversations.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.AuthorID == s.self {
				continue
			}
			if _, seen := m.SeenByUser(s.self); !seen {
				n++
			}
		}
	}
	return n
}

func (s *Store) conversationIndex(id string) int {
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) findMessage(id string) (model.Message, bool) {
	for _, msgs := range s.messages {
		if i := indexOf(msgs, id); i >= 0 {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

func activity(c model.Conversation) time.Time {
	if c.UpdatedAt.IsZero() {
		return c.CreatedAt
	}
	return c.UpdatedAt
}
