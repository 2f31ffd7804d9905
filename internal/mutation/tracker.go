// Package mutation applies user-initiated changes optimistically and resolves
// them against the server response exactly once.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
)

var (
	ErrNoConversation  = errors.New("no conversation selected")
	ErrEmptyMessage    = errors.New("nothing to send")
	ErrUploadsInFlight = errors.New("attachments are still uploading")
	ErrNotFound        = errors.New("message not found")
	ErrNotAuthor       = errors.New("only the author may change a message")
	ErrNotEditable     = errors.New("message is not confirmed yet")
	ErrNoEdit          = errors.New("message is not being edited")
)

// Cache is the local persistence of confirmed messages and send attempts.
type Cache interface {
	QueueOutbox(tempID, conversationID, body string) error
	MarkOutboxSent(tempID, serverMsgID string) error
	MarkOutboxFailed(tempID, errMsg string) error
	UpsertMessage(m model.Message) error
	DeleteMessage(conversationID, msgID string) error
}

// DraftClearer empties and persists the draft of a conversation.
type DraftClearer interface {
	Clear(ctx context.Context, conversationID string)
}

// Options configures a Tracker. Zero values select defaults.
type Options struct {
	Channels config.Channels
	Clock    clock.Clock
	Cache    Cache
	Drafts   DraftClearer
}

// Tracker creates, tracks and resolves optimistic sends, edits, read
// receipts and deletions.
type Tracker struct {
	backend  api.Backend
	state    *state.Store
	bus      *bus.Bus
	channels config.Channels
	clock    clock.Clock
	cache    Cache
	drafts   DraftClearer
	logger   *zap.Logger
	newID    func() string
}

// NewTracker creates a new mutation tracker.
func NewTracker(backend api.Backend, st *state.Store, b *bus.Bus, logger *zap.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Tracker{
		backend:  backend,
		state:    st,
		bus:      b,
		channels: opts.Channels,
		clock:    opts.Clock,
		cache:    opts.Cache,
		drafts:   opts.Drafts,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// SendInput describes a message to send. A positive ScheduleIn defers the
// message's createdAt to that offset from now.
type SendInput struct {
	ConversationID string
	Text           string
	Attachments    []model.Attachment
	Channels       model.Channels
	ScheduleIn     time.Duration
}

// Send shows the message immediately under a temporary id, clears the draft
// and then calls the server. On failure the message stays visible in failed
// state and the error is returned; nothing is retried.
func (t *Tracker) Send(ctx context.Context, in SendInput) (model.Message, error) {
	text := strings.TrimSpace(in.Text)
	if in.ConversationID == "" {
		return model.Message{}, ErrNoConversation
	}
	if text == "" && len(in.Attachments) == 0 {
		return model.Message{}, ErrEmptyMessage
	}

	now := t.clock.Now()
	createdAt := now
	var scheduleIn *int64
	if in.ScheduleIn > 0 {
		createdAt = now.Add(in.ScheduleIn)
		secs := int64(in.ScheduleIn / time.Second)
		scheduleIn = &secs
	}
	cid := in.ConversationID
	optimistic := model.Message{
		ID:             model.TempIDPrefix + t.newID(),
		ConversationID: cid,
		AuthorID:       t.state.Self(),
		Text:           text,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		Attachments:    model.CloneAttachments(in.Attachments),
		Channels:       t.channels.AllowedChannels(now, in.Channels),
		SeenBy:         []model.SeenReceipt{},
		Delivery:       model.Optimistic,
	}

	var refused error
	t.state.MutateLocal(func(tx *state.LocalTx) {
		if tx.UploadsInFlight() > 0 {
			refused = ErrUploadsInFlight
			return
		}
		tx.AppendMessage(optimistic)
		tx.SortMessages(cid)
	})
	if refused != nil {
		return model.Message{}, refused
	}

	if t.drafts != nil {
		t.drafts.Clear(ctx, cid)
	}
	if t.cache != nil {
		if err := t.cache.QueueOutbox(optimistic.ID, cid, text); err != nil {
			t.logger.Warn("failed to record send attempt", zap.Error(err), zap.String("temp_id", optimistic.ID))
		}
	}

	attachments := model.CloneAttachments(optimistic.Attachments)
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	confirmed, err := t.backend.SendMessage(ctx, model.SendRequest{
		ConversationID: cid,
		Text:           text,
		Attachments:    attachments,
		Channels:       optimistic.Channels,
		ScheduleIn:     scheduleIn,
	})
	if err != nil {
		return t.failSend(optimistic, err)
	}
	return t.confirmSend(optimistic, confirmed), nil
}

func (t *Tracker) failSend(optimistic model.Message, sendErr error) (model.Message, error) {
	cid := optimistic.ConversationID
	t.state.MutateLocal(func(tx *state.LocalTx) {
		tx.UpdateMessage(cid, optimistic.ID, func(m *model.Message) {
			m.Delivery = model.Failed
		})
	})
	optimistic.Delivery = model.Failed
	metrics.IncSend(metrics.ResultFailed)
	t.logger.Error("failed to send message", zap.Error(sendErr), zap.String("temp_id", optimistic.ID), zap.String("conversation_id", cid))
	if t.cache != nil {
		if err := t.cache.MarkOutboxFailed(optimistic.ID, sendErr.Error()); err != nil {
			t.logger.Warn("failed to mark send attempt failed", zap.Error(err), zap.String("temp_id", optimistic.ID))
		}
	}
	t.bus.Publish(bus.KindMessageSendFailed, bus.MessageSendFailed{
		ConversationID: cid,
		TempID:         optimistic.ID,
		Err:            sendErr.Error(),
	})
	return optimistic, fmt.Errorf("send message: %w", sendErr)
}

// confirmSend swaps the temporary entry for the server copy. When a poll
// already delivered the confirmed id, the temporary entry is dropped instead.
// When the temporary entry is gone, nothing is inserted.
func (t *Tracker) confirmSend(optimistic model.Message, in model.Message) model.Message {
	cid := optimistic.ConversationID
	confirmed := in.Clone()
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = cid
	}
	confirmed.Delivery = model.Confirmed
	for i := range confirmed.Attachments {
		confirmed.Attachments[i].State = model.AttachmentCommitted
	}

	var applied bool
	t.state.MutateLocal(func(tx *state.LocalTx) {
		if _, ok := tx.FindMessage(confirmed.ID); ok {
			applied = tx.RemoveMessage(cid, optimistic.ID)
			return
		}
		if confirmed.ConversationID != cid {
			if tx.RemoveMessage(cid, optimistic.ID) {
				tx.AppendMessage(confirmed)
				tx.SortMessages(confirmed.ConversationID)
				applied = true
			}
			return
		}
		applied = tx.ReplaceMessage(cid, optimistic.ID, confirmed)
		if applied {
			tx.SortMessages(cid)
		}
	})

	metrics.IncSend(metrics.ResultOK)
	t.logger.Info("message sent", zap.String("temp_id", optimistic.ID), zap.String("msg_id", confirmed.ID))
	if t.cache != nil {
		if err := t.cache.MarkOutboxSent(optimistic.ID, confirmed.ID); err != nil {
			t.logger.Warn("failed to mark send attempt sent", zap.Error(err), zap.String("temp_id", optimistic.ID))
		}
		if err := t.cache.UpsertMessage(confirmed); err != nil {
			t.logger.Warn("failed to cache message", zap.Error(err), zap.String("msg_id", confirmed.ID))
		}
	}
	if !applied {
		t.logger.Debug("optimistic message gone before confirmation", zap.String("temp_id", optimistic.ID))
	}
	t.bus.Publish(bus.KindMessageConfirmed, bus.MessageConfirmed{TempID: optimistic.ID, Message: confirmed.Clone()})
	return confirmed
}

// Discard removes a failed optimistic message from the local state.
func (t *Tracker) Discard(conversationID, tempID string) error {
	var err error
	t.state.MutateLocal(func(tx *state.LocalTx) {
		m, ok := tx.FindMessage(tempID)
		switch {
		case !ok || m.ConversationID != conversationID:
			err = ErrNotFound
		case m.Delivery != model.Failed:
			err = ErrNotEditable
		default:
			tx.RemoveMessage(conversationID, tempID)
		}
	})
	return err
}
