package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/chatsync/internal/model"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestReadsReturnCopies(t *testing.T) {
	s := New("me")
	s.MutateLocal(func(tx *LocalTx) {
		tx.PutConversation(model.Conversation{ID: "c1", Participants: []string{"me", "u1"}})
		tx.AppendMessage(model.Message{ID: "m1", ConversationID: "c1", Text: "hi"})
	})

	msgs := s.Messages("c1")
	msgs[0].Text = "mutated"
	c, ok := s.Conversation("c1")
	require.True(t, ok)
	c.Participants[0] = "mutated"

	m, ok := s.Message("c1", "m1")
	require.True(t, ok)
	assert.Equal(t, "hi", m.Text)
	c, _ = s.Conversation("c1")
	assert.Equal(t, []string{"me", "u1"}, c.Participants)
}

func TestPutConversationReportsNewIDs(t *testing.T) {
	s := New("me")
	var first, second bool
	s.MergeServer(func(tx *ServerTx) {
		first = tx.PutConversation(model.Conversation{ID: "c1", Name: "A"})
		second = tx.PutConversation(model.Conversation{ID: "c1", Name: "B"})
	})
	assert.True(t, first)
	assert.False(t, second)
	require.Len(t, s.Conversations(), 1)
	assert.Equal(t, "B", s.Conversations()[0].Name)
}

func TestUnreadCount(t *testing.T) {
	s := New("me")
	s.MutateLocal(func(tx *LocalTx) {
		tx.AppendMessage(model.Message{ID: "a", ConversationID: "c1", AuthorID: "u1"})
		tx.AppendMessage(model.Message{ID: "b", ConversationID: "c1", AuthorID: "u1",
			SeenBy: []model.SeenReceipt{{UserID: "me", At: t0}}})
		tx.AppendMessage(model.Message{ID: "c", ConversationID: "c1", AuthorID: "me"})
		tx.AppendMessage(model.Message{ID: "d", ConversationID: "c2", AuthorID: "u2"})
	})
	assert.Equal(t, 2, s.UnreadCount())
}

func TestConversationsByActivity(t *testing.T) {
	s := New("me")
	s.MergeServer(func(tx *ServerTx) {
		tx.PutConversation(model.Conversation{ID: "old", CreatedAt: t0})
		tx.PutConversation(model.Conversation{ID: "new", CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)})
	})
	got := s.ConversationsByActivity()
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
}

func TestOnlineInConversationIgnoresSelf(t *testing.T) {
	s := New("me")
	s.MergeServer(func(tx *ServerTx) {
		tx.PutConversation(model.Conversation{ID: "c1", Participants: []string{"me", "u1"}})
		tx.ReplacePresence(map[string]bool{"me": true, "u1": false})
	})
	assert.False(t, s.OnlineInConversation("c1"))

	s.MergeServer(func(tx *ServerTx) {
		tx.ReplacePresence(map[string]bool{"u1": true})
	})
	assert.True(t, s.OnlineInConversation("c1"))
}

func TestReplaceAndRemoveMessage(t *testing.T) {
	s := New("me")
	s.MutateLocal(func(tx *LocalTx) {
		tx.AppendMessage(model.Message{ID: "m1", ConversationID: "c1"})
		tx.AppendMessage(model.Message{ID: "m2", ConversationID: "c1"})
		assert.True(t, tx.ReplaceMessage("c1", "m1", model.Message{ID: "x", ConversationID: "c1"}))
		assert.False(t, tx.ReplaceMessage("c1", "missing", model.Message{}))
		assert.True(t, tx.RemoveMessage("c1", "m2"))
	})
	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0].ID)
}

func TestSortByCreatedAtIsStable(t *testing.T) {
	msgs := []model.Message{
		{ID: "late", CreatedAt: t0.Add(time.Minute)},
		{ID: "tie1", CreatedAt: t0},
		{ID: "tie2", CreatedAt: t0},
	}
	SortByCreatedAt(msgs)
	assert.Equal(t, "tie1", msgs[0].ID)
	assert.Equal(t, "tie2", msgs[1].ID)
	assert.Equal(t, "late", msgs[2].ID)
}

func TestTypingUsersExcludesSelf(t *testing.T) {
	s := New("me")
	s.MergeServer(func(tx *ServerTx) {
		tx.ReplaceTyping(map[string][]model.TypingEntry{
			"c1": {{ConversationID: "c1", UserID: "me"}, {ConversationID: "c1", UserID: "u1"}},
		})
	})
	assert.Equal(t, []string{"u1"}, s.TypingUsers("c1"))
	assert.Len(t, s.Typing("c1"), 2)
}

func TestDraftDefaultsToEmpty(t *testing.T) {
	s := New("me")
	d := s.Draft("c9")
	assert.Equal(t, "c9", d.ConversationID)
	assert.True(t, d.IsEmpty())
}
