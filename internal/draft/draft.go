// Package draft keeps the per-conversation composition buffers and persists
// them remotely. Text edits are debounced; attachment changes save at once.
package draft

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
)

// DefaultDebounce is the quiet period before a text change is saved.
const DefaultDebounce = 400 * time.Millisecond

// Store manages drafts on top of the widget state.
type Store struct {
	backend  api.Backend
	state    *state.Store
	bus      *bus.Bus
	clock    clock.Clock
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*clock.Timer
	gen     map[string]uint64
	wg      sync.WaitGroup
}

// New creates a draft store. A nil clock uses the wall clock.
func New(backend api.Backend, st *state.Store, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		state:    st,
		bus:      b,
		clock:    clk,
		debounce: DefaultDebounce,
		logger:   logger,
		pending:  make(map[string]*clock.Timer),
		gen:      make(map[string]uint64),
	}
}

// Draft returns the local draft of a conversation.
func (s *Store) Draft(conversationID string) model.Draft {
	return s.state.Draft(conversationID)
}

// Load fetches the persisted draft and overwrites the local one. Text typed
// since the last save of that conversation is lost.
func (s *Store) Load(ctx context.Context, conversationID string) (model.Draft, error) {
	d, err := s.backend.GetDraft(ctx, conversationID)
	if err != nil {
		return model.Draft{}, err
	}
	d.ConversationID = conversationID
	for i := range d.Attachments {
		d.Attachments[i].State = model.AttachmentCommitted
	}
	s.cancel(conversationID)
	s.state.MutateLocal(func(tx *state.LocalTx) {
		tx.PutDraft(d)
	})
	return d.Clone(), nil
}

// SetText updates the text and schedules a save once typing pauses.
func (s *Store) SetText(conversationID, text string) {
	s.state.MutateLocal(func(tx *state.LocalTx) {
		d := tx.Draft(conversationID)
		d.Text = text
		tx.PutDraft(d)
	})
	s.schedule(conversationID)
}

// AddAttachment appends an attachment and saves immediately.
func (s *Store) AddAttachment(ctx context.Context, conversationID string, att model.Attachment) {
	s.state.MutateLocal(func(tx *state.LocalTx) {
		d := tx.Draft(conversationID)
		d.Attachments = append(d.Attachments, att)
		tx.PutDraft(d)
	})
	s.Save(ctx, conversationID)
}

// ReplaceAttachment swaps the attachment with id for att and saves. It
// reports false when the id is no longer part of the draft.
func (s *Store) ReplaceAttachment(ctx context.Context, conversationID, id string, att model.Attachment) bool {
	var found bool
	s.state.MutateLocal(func(tx *state.LocalTx) {
		d := tx.Draft(conversationID)
		for i := range d.Attachments {
			if d.Attachments[i].ID == id {
				d.Attachments[i] = att
				found = true
				break
			}
		}
		if found {
			tx.PutDraft(d)
		}
	})
	if found {
		s.Save(ctx, conversationID)
	}
	return found
}

// RemoveAttachment drops an attachment and saves. It reports false when the
// id is not part of the draft.
func (s *Store) RemoveAttachment(ctx context.Context, conversationID, id string) bool {
	var found bool
	s.state.MutateLocal(func(tx *state.LocalTx) {
		d := tx.Draft(conversationID)
		for i := range d.Attachments {
			if d.Attachments[i].ID == id {
				d.Attachments = append(d.Attachments[:i], d.Attachments[i+1:]...)
				found = true
				break
			}
		}
		if found {
			tx.PutDraft(d)
		}
	})
	if found {
		s.Save(ctx, conversationID)
	}
	return found
}

// Clear empties the draft and persists the empty draft.
func (s *Store) Clear(ctx context.Context, conversationID string) {
	s.state.MutateLocal(func(tx *state.LocalTx) {
		tx.PutDraft(model.Draft{ConversationID: conversationID})
	})
	s.Save(ctx, conversationID)
}

// Save persists the draft now, superseding any scheduled save.
func (s *Store) Save(ctx context.Context, conversationID string) {
	s.cancel(conversationID)
	s.save(ctx, conversationID)
}

// Flush saves every draft with a pending debounced save.
func (s *Store) Flush(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Save(ctx, id)
	}
}

// Wait blocks until every scheduled save has run or been cancelled.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) schedule(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[conversationID]; ok && t.Stop() {
		s.wg.Done()
	}
	s.gen[conversationID]++
	gen := s.gen[conversationID]
	s.wg.Add(1)
	s.pending[conversationID] = s.clock.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		s.mu.Lock()
		current := s.gen[conversationID] == gen
		if current {
			delete(s.pending, conversationID)
		}
		s.mu.Unlock()
		if current {
			s.save(context.Background(), conversationID)
		}
	})
}

// cancel stops a scheduled save. A stopped timer never runs its func, so its
// wait group slot is released here.
func (s *Store) cancel(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[conversationID]
	if !ok {
		return
	}
	s.gen[conversationID]++
	delete(s.pending, conversationID)
	if t.Stop() {
		s.wg.Done()
	}
}

func (s *Store) save(ctx context.Context, conversationID string) {
	d := s.state.Draft(conversationID)
	d.ConversationID = conversationID
	if err := s.backend.SaveDraft(ctx, d); err != nil {
		metrics.IncDraftSave(metrics.ResultFailed)
		s.logger.Warn("failed to save draft", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	metrics.IncDraftSave(metrics.ResultOK)
	s.bus.Publish(bus.KindDraftSaved, bus.DraftSaved{ConversationID: conversationID})
}
