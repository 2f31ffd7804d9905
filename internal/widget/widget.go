// Package widget is the public face of the chat widget. It ties the sync
// coordinator, the mutation tracker, drafts and uploads to one active
// conversation and an open/closed window.
package widget

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/draft"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/mutation"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	syncpkg "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/upload"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrUnknownConversation  = errors.New("unknown conversation")
	ErrSingleConversation   = errors.New("only one conversation allowed")
	ErrScheduleInPast       = errors.New("schedule time is not in the future")
)

// Components are the collaborators a Widget drives.
type Components struct {
	Backend     api.Backend
	State       *state.Store
	Bus         *bus.Bus
	Coordinator *syncpkg.Coordinator
	Tracker     *mutation.Tracker
	Drafts      *draft.Store
	Uploads     *upload.Pipeline
	Clock       clock.Clock
}

// Widget exposes the widget operations.
type Widget struct {
	Components
	cfg    config.Widget
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates a widget from already built components.
func New(c Components, cfg config.Widget, logger *zap.Logger) *Widget {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return &Widget{Components: c, cfg: cfg, logger: logger}
}

// AssembleOptions tunes Assemble.
type AssembleOptions struct {
	Clock clock.Clock
	// Cache mirrors synced data and records sends when set.
	Cache   *store.DB
	Machine *status.Machine
}

// Assemble builds every component for cfg on top of backend.
func Assemble(cfg config.Config, backend api.Backend, b *bus.Bus, logger *zap.Logger, opts AssembleOptions) *Widget {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Machine == nil {
		opts.Machine = status.NewMachine(b)
	}
	st := state.New(cfg.Widget.SelfUserID)

	var (
		mirror      syncpkg.Mirror
		checkpoints syncpkg.Checkpointer
		cache       mutation.Cache
	)
	if opts.Cache != nil {
		mirror, checkpoints, cache = opts.Cache, opts.Cache, opts.Cache
	}

	rec := syncpkg.NewReconciler(st, b, mirror, logger.Named("reconciler"))
	coord := syncpkg.NewCoordinator(backend, rec, opts.Machine, b, logger.Named("sync"), syncpkg.Options{
		Interval:    cfg.PollInterval(),
		Clock:       opts.Clock,
		Checkpoints: checkpoints,
	})
	drafts := draft.New(backend, st, b, opts.Clock, logger.Named("drafts"))
	tracker := mutation.NewTracker(backend, st, b, logger.Named("mutation"), mutation.Options{
		Channels: cfg.Channels,
		Clock:    opts.Clock,
		Cache:    cache,
		Drafts:   drafts,
	})
	uploads := upload.NewPipeline(backend, st, drafts, b, logger.Named("upload"), upload.Options{
		Limits: cfg.Upload,
		Clock:  opts.Clock,
	})

	return New(Components{
		Backend:     backend,
		State:       st,
		Bus:         b,
		Coordinator: coord,
		Tracker:     tracker,
		Drafts:      drafts,
		Uploads:     uploads,
		Clock:       opts.Clock,
	}, cfg.Widget, logger)
}

// Start syncs everything, starts polling and marks newly arrived messages
// of the active conversation as read while the window is open.
func (w *Widget) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.Bus.Listen(ctx, string(bus.KindMessageAdded), func(evt bus.Event) {
		added, ok := evt.Payload.(bus.MessageAdded)
		if !ok || !w.State.IsOpen() || added.Message.ConversationID != w.State.Active() {
			return
		}
		if _, err := w.Tracker.MarkAsRead(ctx, added.Message.ConversationID); err != nil {
			w.logger.Warn("failed to mark incoming messages read", zap.Error(err))
		}
	})
	w.Coordinator.Start(ctx)
	w.logger.Info("widget started", zap.Duration("poll_interval", w.Coordinator.Interval()))
}

// Stop stops polling, persists pending drafts and waits for uploads.
func (w *Widget) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	w.Coordinator.Stop()
	w.Uploads.Wait()
	w.Drafts.Flush(ctx)
	w.Drafts.Wait()
	w.logger.Info("widget stopped")
}

// Open shows the window and marks the active conversation as read.
func (w *Widget) Open(ctx context.Context) error {
	w.State.MutateLocal(func(tx *state.LocalTx) {
		tx.SetOpen(true)
	})
	if w.State.Active() == "" {
		return nil
	}
	return w.MarkActiveAsRead(ctx)
}

// Close hides the window.
func (w *Widget) Close() {
	w.State.MutateLocal(func(tx *state.LocalTx) {
		tx.SetOpen(false)
	})
}

// SelectConversation makes a conversation active and loads its draft. The
// conversation is marked read when the window is open.
func (w *Widget) SelectConversation(ctx context.Context, conversationID string) error {
	if _, ok := w.State.Conversation(conversationID); !ok {
		return ErrUnknownConversation
	}
	w.State.MutateLocal(func(tx *state.LocalTx) {
		tx.SetActive(conversationID)
	})
	if _, err := w.Drafts.Load(ctx, conversationID); err != nil {
		w.logger.Warn("failed to load draft", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if !w.State.IsOpen() {
		return nil
	}
	return w.MarkActiveAsRead(ctx)
}

// StartConversation creates a conversation with participants and selects it.
func (w *Widget) StartConversation(ctx context.Context, participants []string) (model.Conversation, error) {
	if !w.cfg.CanStartMultipleConversations && len(w.State.Conversations()) > 0 {
		return model.Conversation{}, ErrSingleConversation
	}
	conv, err := w.Backend.StartConversation(ctx, participants)
	if err != nil {
		return model.Conversation{}, err
	}
	var added bool
	w.State.MutateLocal(func(tx *state.LocalTx) {
		added = tx.PutConversation(conv)
	})
	if added {
		w.Bus.Publish(bus.KindConversationAdded, bus.ConversationAdded{Conversation: conv})
	}
	return conv, w.SelectConversation(ctx, conv.ID)
}

// AddParticipant adds a user to a conversation once the server agreed.
func (w *Widget) AddParticipant(ctx context.Context, conversationID, userID string) error {
	if err := w.Backend.AddParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	w.State.MutateLocal(func(tx *state.LocalTx) {
		c, ok := tx.Conversation(conversationID)
		if !ok || c.HasParticipant(userID) {
			return
		}
		c.Participants = append(c.Participants, userID)
		tx.PutConversation(c)
	})
	return nil
}

// RemoveParticipant removes a user from a conversation once the server agreed.
func (w *Widget) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	if err := w.Backend.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	w.State.MutateLocal(func(tx *state.LocalTx) {
		c, ok := tx.Conversation(conversationID)
		if !ok {
			return
		}
		kept := c.Participants[:0]
		for _, p := range c.Participants {
			if p != userID {
				kept = append(kept, p)
			}
		}
		c.Participants = kept
		tx.PutConversation(c)
	})
	return nil
}

// SearchUsers looks users up by name. A blank query returns nothing.
func (w *Widget) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return w.Backend.SearchUsers(ctx, query)
}

// SetDraftText updates the text being composed in the active conversation.
func (w *Widget) SetDraftText(text string) error {
	cid := w.State.Active()
	if cid == "" {
		return ErrNoActiveConversation
	}
	w.Drafts.SetText(cid, text)
	return nil
}

// AttachFiles uploads files into the draft of the active conversation.
func (w *Widget) AttachFiles(ctx context.Context, files []model.File) (upload.Selection, error) {
	cid := w.State.Active()
	if cid == "" {
		return upload.Selection{}, ErrNoActiveConversation
	}
	return w.Uploads.Select(ctx, cid, files), nil
}

// RemoveAttachment drops an attachment from the active draft. An upload
// still running for it resolves without effect.
func (w *Widget) RemoveAttachment(ctx context.Context, attachmentID string) error {
	cid := w.State.Active()
	if cid == "" {
		return ErrNoActiveConversation
	}
	w.Drafts.RemoveAttachment(ctx, cid, attachmentID)
	w.State.MutateLocal(func(tx *state.LocalTx) {
		tx.ClearUploadProgress(attachmentID)
	})
	return nil
}

// Send sends the active draft on the requested channels.
func (w *Widget) Send(ctx context.Context, channels model.Channels) (model.Message, error) {
	return w.send(ctx, channels, 0)
}

// Schedule sends the active draft for delivery at the given instant.
func (w *Widget) Schedule(ctx context.Context, at time.Time, channels model.Channels) (model.Message, error) {
	in := at.Sub(w.Clock.Now())
	if in <= 0 {
		return model.Message{}, ErrScheduleInPast
	}
	return w.send(ctx, channels, in)
}

func (w *Widget) send(ctx context.Context, channels model.Channels, scheduleIn time.Duration) (model.Message, error) {
	cid := w.State.Active()
	if cid == "" {
		return model.Message{}, ErrNoActiveConversation
	}
	d := w.State.Draft(cid)
	return w.Tracker.Send(ctx, mutation.SendInput{
		ConversationID: cid,
		Text:           d.Text,
		Attachments:    d.Attachments,
		Channels:       channels,
		ScheduleIn:     scheduleIn,
	})
}

// BeginEdit starts editing one of the local user's messages.
func (w *Widget) BeginEdit(messageID string) error {
	return w.Tracker.BeginEdit(messageID)
}

// UpdateEdit changes the text of an edit in progress.
func (w *Widget) UpdateEdit(messageID, text string) error {
	return w.Tracker.UpdateEdit(messageID, text)
}

// SaveEdit sends an edit in progress to the server.
func (w *Widget) SaveEdit(ctx context.Context, messageID string) error {
	return w.Tracker.SaveEdit(ctx, messageID)
}

// CancelEdit drops an edit in progress.
func (w *Widget) CancelEdit(messageID string) {
	w.Tracker.CancelEdit(messageID)
}

// DeleteMessage deletes one of the local user's messages.
func (w *Widget) DeleteMessage(ctx context.Context, messageID string) error {
	return w.Tracker.Delete(ctx, messageID)
}

// DiscardFailed removes a failed send from the active conversation.
func (w *Widget) DiscardFailed(tempID string) error {
	return w.Tracker.Discard(w.State.Active(), tempID)
}

// MarkActiveAsRead marks everything unseen in the active conversation.
func (w *Widget) MarkActiveAsRead(ctx context.Context) error {
	cid := w.State.Active()
	if cid == "" {
		return ErrNoActiveConversation
	}
	_, err := w.Tracker.MarkAsRead(ctx, cid)
	return err
}

// UnreadCount is the number of unseen messages from other users.
func (w *Widget) UnreadCount() int {
	return w.State.UnreadCount()
}

// Events subscribes to widget events whose kind starts with prefix.
func (w *Widget) Events(prefix string, buffer int) (<-chan bus.Event, func()) {
	return w.Bus.Subscribe(prefix, buffer)
}
