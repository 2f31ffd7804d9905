package mutation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
)

// BeginEdit opens an edit buffer on a confirmed message of the local user.
// Calling it again for the same message keeps the existing buffer.
func (t *Tracker) BeginEdit(messageID string) error {
	var err error
	t.state.MutateLocal(func(tx *state.LocalTx) {
		m, ok := tx.FindMessage(messageID)
		switch {
		case !ok:
			err = ErrNotFound
		case m.AuthorID != tx.Self():
			err = ErrNotAuthor
		case m.Pending():
			err = ErrNotEditable
		default:
			if _, editing := tx.PendingEdit(messageID); editing {
				return
			}
			tx.PutEdit(state.PendingEdit{
				MessageID:      m.ID,
				ConversationID: m.ConversationID,
				Text:           m.Text,
				ServerText:     m.Text,
			})
		}
	})
	return err
}

// UpdateEdit replaces the buffer text. The message shows the buffer while the
// edit is open.
func (t *Tracker) UpdateEdit(messageID, text string) error {
	var err error
	t.state.MutateLocal(func(tx *state.LocalTx) {
		e, ok := tx.PendingEdit(messageID)
		if !ok {
			err = ErrNoEdit
			return
		}
		e.Text = text
		tx.PutEdit(e)
		tx.UpdateMessage(e.ConversationID, messageID, func(m *model.Message) {
			m.Text = text
		})
	})
	return err
}

// CancelEdit drops the buffer and restores the last server text.
func (t *Tracker) CancelEdit(messageID string) {
	t.state.MutateLocal(func(tx *state.LocalTx) {
		discardEdit(tx, messageID)
	})
}

// SaveEdit sends the buffer. An empty or unchanged buffer is cancelled
// without a call. On success the message takes the new text; on failure the
// edit is lost and the server text comes back. Either way the buffer is gone.
func (t *Tracker) SaveEdit(ctx context.Context, messageID string) error {
	e, ok := t.state.PendingEdit(messageID)
	if !ok {
		return ErrNoEdit
	}
	newText := strings.TrimSpace(e.Text)
	if newText == "" || newText == e.ServerText {
		t.CancelEdit(messageID)
		return nil
	}

	err := t.backend.EditMessage(ctx, messageID, newText)

	var (
		updated model.Message
		found   bool
	)
	now := t.clock.Now()
	t.state.MutateLocal(func(tx *state.LocalTx) {
		if err != nil {
			discardEdit(tx, messageID)
			return
		}
		found = tx.UpdateMessage(e.ConversationID, messageID, func(m *model.Message) {
			m.Text = newText
			m.UpdatedAt = now
			updated = m.Clone()
		})
		tx.DeleteEdit(messageID)
	})

	if err != nil {
		metrics.IncEdit(metrics.ResultFailed)
		t.logger.Warn("edit discarded", zap.Error(err), zap.String("msg_id", messageID))
		return fmt.Errorf("edit message: %w", err)
	}
	metrics.IncEdit(metrics.ResultOK)
	if found && t.cache != nil {
		if err := t.cache.UpsertMessage(updated); err != nil {
			t.logger.Warn("failed to cache message", zap.Error(err), zap.String("msg_id", messageID))
		}
	}
	t.bus.Publish(bus.KindMessageEdited, bus.MessageEdited{ConversationID: e.ConversationID, MessageID: messageID, Text: newText})
	return nil
}

func discardEdit(tx *state.LocalTx, messageID string) {
	e, ok := tx.PendingEdit(messageID)
	if !ok {
		return
	}
	tx.UpdateMessage(e.ConversationID, messageID, func(m *model.Message) {
		m.Text = e.ServerText
	})
	tx.DeleteEdit(messageID)
}

// MarkAsRead marks every message of the conversation authored by someone
// else and not yet seen by the local user. Nothing is sent when there is
// nothing to mark. Receipts are applied locally only after the server
// accepted them and are never rolled back.
func (t *Tracker) MarkAsRead(ctx context.Context, conversationID string) ([]string, error) {
	self := t.state.Self()
	var ids []string
	for _, m := range t.state.Messages(conversationID) {
		if m.AuthorID == self || m.Pending() {
			continue
		}
		if _, seen := m.SeenByUser(self); !seen {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := t.backend.MarkAsRead(ctx, conversationID, ids); err != nil {
		return nil, fmt.Errorf("mark as read: %w", err)
	}

	now := t.clock.Now()
	t.state.MutateLocal(func(tx *state.LocalTx) {
		for _, id := range ids {
			tx.UpdateMessage(conversationID, id, func(m *model.Message) {
				m.MarkSeen(self, now)
			})
		}
	})
	t.bus.Publish(bus.KindMessageRead, bus.ReadReceipt{ConversationID: conversationID, MessageIDs: ids})
	return ids, nil
}

// Delete removes a message of the local user on the server and then locally.
// A failed optimistic message is discarded without a call.
func (t *Tracker) Delete(ctx context.Context, messageID string) error {
	m, ok := t.state.FindMessage(messageID)
	if !ok {
		return ErrNotFound
	}
	if m.AuthorID != t.state.Self() {
		return ErrNotAuthor
	}
	if m.Pending() {
		return t.Discard(m.ConversationID, m.ID)
	}

	if err := t.backend.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	t.state.MutateLocal(func(tx *state.LocalTx) {
		tx.RemoveMessage(m.ConversationID, messageID)
		tx.DeleteEdit(messageID)
	})
	if t.cache != nil {
		if err := t.cache.DeleteMessage(m.ConversationID, messageID); err != nil {
			t.logger.Warn("failed to delete cached message", zap.Error(err), zap.String("msg_id", messageID))
		}
	}
	t.bus.Publish(bus.KindMessageDeleted, bus.MessageDeleted{ConversationID: m.ConversationID, MessageID: messageID})
	return nil
}
