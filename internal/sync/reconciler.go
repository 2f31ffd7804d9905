package sync

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
	"go.uber.org/zap"
)

// Mirror receives every merged delta for local persistence.
type Mirror interface {
	SaveChanges(convs []model.Conversation, msgs []model.Message) error
}

// Result describes what a merge changed.
type Result struct {
	Conversations    int
	Messages         int
	NewConversations []model.Conversation
	NewMessages      []model.Message
	// Unread holds new messages authored by someone else.
	Unread []model.Message
	Typing []model.TypingEntry
}

// Reconciler merges server deltas into the widget state. Merging is
// idempotent: the same delta applied twice leaves the state unchanged.
type Reconciler struct {
	state  *state.Store
	bus    *bus.Bus
	mirror Mirror
	logger *zap.Logger
}

// NewReconciler creates a new reconciler. mirror may be nil.
func NewReconciler(st *state.Store, b *bus.Bus, mirror Mirror, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{state: st, bus: b, mirror: mirror, logger: logger}
}

// ApplyChanges merges a delta and emits events for ids seen for the first time.
func (r *Reconciler) ApplyChanges(ch model.Changes) Result {
	res := Result{
		Conversations: len(ch.Conversations),
		Messages:      len(ch.Messages),
		Typing:        dedupeTyping(ch.Typing),
	}

	r.state.MergeServer(func(tx *state.ServerTx) {
		self := tx.Self()

		for _, c := range ch.Conversations {
			if prev, ok := tx.Conversation(c.ID); ok && c.UpdatedAt.Before(prev.UpdatedAt) {
				c.UpdatedAt = prev.UpdatedAt
			}
			if tx.PutConversation(c) {
				res.NewConversations = append(res.NewConversations, c.Clone())
			}
		}

		var order []string
		byConversation := make(map[string][]model.Message)
		for _, m := range ch.Messages {
			if _, ok := byConversation[m.ConversationID]; !ok {
				order = append(order, m.ConversationID)
			}
			byConversation[m.ConversationID] = append(byConversation[m.ConversationID], m)
		}
		for _, cid := range order {
			msgs := tx.Messages(cid)
			for _, in := range byConversation[cid] {
				m := confirmed(in)
				if e, ok := tx.PendingEdit(m.ID); ok {
					tx.RecordServerText(m.ID, m.Text)
					m.Text = e.Text
				}
				if i := indexOf(msgs, m.ID); i >= 0 {
					msgs[i] = m
					continue
				}
				msgs = append(msgs, m)
				res.NewMessages = append(res.NewMessages, m.Clone())
				if m.AuthorID != self {
					res.Unread = append(res.Unread, m.Clone())
				}
			}
			state.SortByCreatedAt(msgs)
			tx.SetMessages(cid, msgs)
		}

		typing := make(map[string][]model.TypingEntry)
		for _, t := range res.Typing {
			typing[t.ConversationID] = append(typing[t.ConversationID], t)
		}
		tx.ReplaceTyping(typing)

		presence := make(map[string]bool, len(ch.Presence))
		for _, p := range ch.Presence {
			presence[p.UserID] = p.Online
		}
		tx.ReplacePresence(presence)
	})

	if r.mirror != nil && (len(ch.Conversations) > 0 || len(ch.Messages) > 0) {
		if err := r.mirror.SaveChanges(ch.Conversations, ch.Messages); err != nil {
			r.logger.Warn("failed to mirror changes", zap.Error(err))
		}
	}

	for _, c := range res.NewConversations {
		r.bus.Publish(bus.KindConversationAdded, bus.ConversationAdded{Conversation: c})
	}
	for _, m := range res.Unread {
		r.bus.Publish(bus.KindMessageAdded, bus.MessageAdded{Message: m})
	}
	if len(res.Typing) > 0 {
		r.bus.Publish(bus.KindTypingChanged, bus.TypingChanged{Entries: res.Typing})
	}

	metrics.AddDeltas("conversations", res.Conversations)
	metrics.AddDeltas("messages", res.Messages)
	metrics.AddDeltas("typing", len(res.Typing))
	metrics.AddDeltas("presence", len(ch.Presence))
	return res
}

func confirmed(in model.Message) model.Message {
	m := in.Clone()
	m.Delivery = model.Confirmed
	for i := range m.Attachments {
		m.Attachments[i].State = model.AttachmentCommitted
	}
	return m
}

// dedupeTyping keeps one entry per (conversation, user), the latest expiry
// winning, in first-seen order.
func dedupeTyping(in []model.TypingEntry) []model.TypingEntry {
	type key struct{ cid, uid string }
	seen := make(map[key]int, len(in))
	var out []model.TypingEntry
	for _, t := range in {
		k := key{t.ConversationID, t.UserID}
		if i, ok := seen[k]; ok {
			if t.Until.After(out[i].Until) {
				out[i].Until = t.Until
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, t)
	}
	return out
}

func indexOf(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
