package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/mocks"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
)

func newTestStore() (*Store, *mocks.BackendMock, *clock.Mock, *bus.Bus) {
	backend := new(mocks.BackendMock)
	clk := clock.NewMock()
	b := bus.New(nil)
	return New(backend, state.New("me"), b, clk, nil), backend, clk, b
}

func draftWithText(text string) interface{} {
	return mock.MatchedBy(func(d model.Draft) bool {
		return d.ConversationID == "c1" && d.Text == text
	})
}

func TestSetTextDebounced(t *testing.T) {
	s, backend, clk, _ := newTestStore()
	backend.On("SaveDraft", mock.Anything, draftWithText("hel")).Return(nil).Once()

	s.SetText("c1", "h")
	clk.Add(100 * time.Millisecond)
	s.SetText("c1", "he")
	clk.Add(100 * time.Millisecond)
	s.SetText("c1", "hel")
	clk.Add(399 * time.Millisecond)
	backend.AssertNotCalled(t, "SaveDraft", mock.Anything, mock.Anything)
	assert.Equal(t, "hel", s.Draft("c1").Text)

	clk.Add(time.Millisecond)
	s.Wait()
	backend.AssertExpectations(t)
	backend.AssertNumberOfCalls(t, "SaveDraft", 1)
}

func TestSaveFailureKeepsLocalText(t *testing.T) {
	s, backend, clk, b := newTestStore()
	events, unsub := b.Subscribe("draft.", 4)
	defer unsub()
	backend.On("SaveDraft", mock.Anything, mock.Anything).Return(errors.New("offline"))

	s.SetText("c1", "typed")
	clk.Add(DefaultDebounce)
	s.Wait()

	assert.Equal(t, "typed", s.Draft("c1").Text)
	assert.Empty(t, events)
}

func TestSavePublishesEvent(t *testing.T) {
	s, backend, _, b := newTestStore()
	events, unsub := b.Subscribe("draft.", 4)
	defer unsub()
	backend.On("SaveDraft", mock.Anything, mock.Anything).Return(nil)

	s.Save(context.Background(), "c1")

	require.Len(t, events, 1)
	evt := <-events
	assert.Equal(t, bus.KindDraftSaved, evt.Kind)
	assert.Equal(t, bus.DraftSaved{ConversationID: "c1"}, evt.Payload)
}

func TestLoadOverwritesAndCancelsPendingSave(t *testing.T) {
	s, backend, clk, _ := newTestStore()
	backend.On("GetDraft", mock.Anything, "c1").Return(model.Draft{
		Text:        "persisted",
		Attachments: []model.Attachment{{ID: "f1", Name: "a.png", URL: "/files/a.png"}},
	}, nil)

	s.SetText("c1", "unsaved")
	d, err := s.Load(context.Background(), "c1")
	require.NoError(t, err)
	clk.Add(time.Second)
	s.Wait()

	assert.Equal(t, "c1", d.ConversationID)
	got := s.Draft("c1")
	assert.Equal(t, "persisted", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, model.AttachmentCommitted, got.Attachments[0].State)
	backend.AssertNotCalled(t, "SaveDraft", mock.Anything, mock.Anything)
}

func TestLoadFailureKeepsLocalDraft(t *testing.T) {
	s, backend, _, _ := newTestStore()
	backend.On("GetDraft", mock.Anything, "c1").Return(nil, errors.New("boom"))
	s.state.MutateLocal(func(tx *state.LocalTx) {
		tx.PutDraft(model.Draft{ConversationID: "c1", Text: "local"})
	})

	_, err := s.Load(context.Background(), "c1")
	assert.Error(t, err)
	assert.Equal(t, "local", s.Draft("c1").Text)
}

func TestAttachmentChangesSaveImmediately(t *testing.T) {
	s, backend, _, _ := newTestStore()
	backend.On("SaveDraft", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	s.AddAttachment(ctx, "c1", model.Attachment{ID: "temp_1", Name: "a.png", State: model.AttachmentUploading})
	backend.AssertNumberOfCalls(t, "SaveDraft", 1)

	ok := s.ReplaceAttachment(ctx, "c1", "temp_1", model.Attachment{ID: "f1", Name: "a.png", URL: "/f1", State: model.AttachmentCommitted})
	require.True(t, ok)
	backend.AssertNumberOfCalls(t, "SaveDraft", 2)
	assert.Equal(t, "f1", s.Draft("c1").Attachments[0].ID)

	assert.False(t, s.ReplaceAttachment(ctx, "c1", "temp_1", model.Attachment{ID: "f2"}))
	assert.False(t, s.RemoveAttachment(ctx, "c1", "missing"))
	backend.AssertNumberOfCalls(t, "SaveDraft", 2)

	require.True(t, s.RemoveAttachment(ctx, "c1", "f1"))
	assert.Empty(t, s.Draft("c1").Attachments)
	backend.AssertNumberOfCalls(t, "SaveDraft", 3)
}

func TestClearSupersedesPendingSave(t *testing.T) {
	s, backend, clk, _ := newTestStore()
	backend.On("SaveDraft", mock.Anything, draftWithText("")).Return(nil).Once()

	s.SetText("c1", "about to send")
	s.Clear(context.Background(), "c1")
	clk.Add(time.Second)
	s.Wait()

	assert.True(t, s.Draft("c1").IsEmpty())
	backend.AssertExpectations(t)
	backend.AssertNumberOfCalls(t, "SaveDraft", 1)
}

func TestFlushSavesPendingDrafts(t *testing.T) {
	s, backend, clk, _ := newTestStore()
	backend.On("SaveDraft", mock.Anything, draftWithText("one")).Return(nil).Once()
	backend.On("SaveDraft", mock.Anything, mock.MatchedBy(func(d model.Draft) bool {
		return d.ConversationID == "c2" && d.Text == "two"
	})).Return(nil).Once()

	s.SetText("c1", "one")
	s.SetText("c2", "two")
	s.Flush(context.Background())
	clk.Add(time.Second)
	s.Wait()

	backend.AssertExpectations(t)
	backend.AssertNumberOfCalls(t, "SaveDraft", 2)
}
