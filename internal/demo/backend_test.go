package demo

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/chatsync/internal/model"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend() (*Backend, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(t0)
	return New(nil, Options{Clock: clk, Rand: rand.New(rand.NewPCG(1, 2))}), clk
}

func TestFullListingReturnsSeed(t *testing.T) {
	b, _ := newTestBackend()

	cs, err := b.ListChanges(context.Background(), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, t0, cs.ServerTime)
	require.Len(t, cs.Changes.Conversations, 2)
	assert.Equal(t, "c_general", cs.Changes.Conversations[0].ID)
	require.Len(t, cs.Changes.Messages, 2)
	_, seen := cs.Changes.Messages[0].SeenByUser("me")
	assert.True(t, seen)
	assert.Len(t, cs.Changes.Presence, 4)
	assert.Empty(t, cs.Changes.Typing)
}

func TestListingFiltersBySince(t *testing.T) {
	b, clk := newTestBackend()
	ctx := context.Background()

	cs, err := b.ListChanges(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, cs.Changes.Conversations)
	assert.Empty(t, cs.Changes.Messages)
	assert.Len(t, cs.Changes.Presence, 4)

	clk.Add(time.Second)
	require.NoError(t, b.AddParticipant(ctx, "c_support", "u_jamie"))

	cs, err = b.ListChanges(ctx, t0)
	require.NoError(t, err)
	require.Len(t, cs.Changes.Conversations, 1)
	assert.Equal(t, []string{"me", "u_sam", "u_jamie"}, cs.Changes.Conversations[0].Participants)
}

func TestSendTriggersTypingAndAutoReply(t *testing.T) {
	b, clk := newTestBackend()
	ctx := context.Background()
	in := int64(0)

	msg, err := b.SendMessage(ctx, model.SendRequest{ConversationID: "c_general", Text: "hi", ScheduleIn: &in})
	require.NoError(t, err)
	assert.Equal(t, "me", msg.AuthorID)
	assert.True(t, strings.HasPrefix(msg.ID, "m_"))
	assert.NotNil(t, msg.Attachments)

	cs, err := b.ListChanges(ctx, t0.Add(-time.Nanosecond))
	require.NoError(t, err)
	require.Len(t, cs.Changes.Typing, 1)
	typing := cs.Changes.Typing[0]
	assert.Equal(t, Responder, typing.UserID)
	assert.True(t, !typing.Until.Before(t0.Add(1500*time.Millisecond)) && typing.Until.Before(t0.Add(3*time.Second)))

	clk.Add(3 * time.Second)
	require.Eventually(t, func() bool {
		cs, _ := b.ListChanges(ctx, t0)
		for _, m := range cs.Changes.Messages {
			if m.AuthorID == Responder && strings.HasPrefix(m.Text, "Auto-reply (demo): ") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cs, err = b.ListChanges(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, cs.Changes.Typing)
	require.Len(t, cs.Changes.Conversations, 1)
	assert.True(t, cs.Changes.Conversations[0].UpdatedAt.After(t0))
}

func TestScheduledSendDefersCreatedAt(t *testing.T) {
	b, _ := newTestBackend()
	in := int64(3600)

	msg, err := b.SendMessage(context.Background(), model.SendRequest{ConversationID: "c_support", Text: "later", ScheduleIn: &in})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), msg.CreatedAt)
}

func TestSendToUnknownConversation(t *testing.T) {
	b, _ := newTestBackend()
	_, err := b.SendMessage(context.Background(), model.SendRequest{ConversationID: "nope", Text: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestEditAndDelete(t *testing.T) {
	b, clk := newTestBackend()
	ctx := context.Background()
	msg, err := b.SendMessage(ctx, model.SendRequest{ConversationID: "c_support", Text: "typo"})
	require.NoError(t, err)

	clk.Add(time.Minute)
	require.NoError(t, b.EditMessage(ctx, msg.ID, "fixed"))
	cs, _ := b.ListChanges(ctx, t0.Add(30*time.Second))
	var edited *model.Message
	for i := range cs.Changes.Messages {
		if cs.Changes.Messages[i].ID == msg.ID {
			edited = &cs.Changes.Messages[i]
		}
	}
	require.NotNil(t, edited)
	assert.Equal(t, "fixed", edited.Text)

	assert.ErrorIs(t, b.EditMessage(ctx, "missing", "x"), ErrNotFound)
	require.NoError(t, b.DeleteMessage(ctx, msg.ID))
	assert.ErrorIs(t, b.DeleteMessage(ctx, msg.ID), ErrNotFound)
}

func TestStartConversationIncludesSelf(t *testing.T) {
	b, _ := newTestBackend()

	conv, err := b.StartConversation(context.Background(), []string{"u_sam", "u_jamie", "u_sam", "me"})
	require.NoError(t, err)
	assert.Equal(t, "Chat with Sam, Jamie", conv.Name)
	assert.Equal(t, []string{"me", "u_sam", "u_jamie"}, conv.Participants)
	assert.True(t, strings.HasPrefix(conv.ID, "c_"))

	_, err = b.StartConversation(context.Background(), []string{"me"})
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestMarkAsReadUpsertsReceipt(t *testing.T) {
	b, clk := newTestBackend()
	ctx := context.Background()
	cs, _ := b.ListChanges(ctx, time.Time{})
	var support model.Message
	for _, m := range cs.Changes.Messages {
		if m.ConversationID == "c_support" {
			support = m
		}
	}

	clk.Add(time.Second)
	require.NoError(t, b.MarkAsRead(ctx, "c_support", []string{support.ID}))
	clk.Add(time.Second)
	require.NoError(t, b.MarkAsRead(ctx, "c_support", []string{support.ID}))

	cs, _ = b.ListChanges(ctx, t0)
	require.Len(t, cs.Changes.Messages, 1)
	require.Len(t, cs.Changes.Messages[0].SeenBy, 1)
	assert.Equal(t, t0.Add(2*time.Second), cs.Changes.Messages[0].SeenBy[0].At)
}

func TestDraftsAndUploads(t *testing.T) {
	b, _ := newTestBackend()
	ctx := context.Background()

	d, err := b.GetDraft(ctx, "c_general")
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
	assert.NotNil(t, d.Attachments)

	att, err := b.UploadFile(ctx, model.File{Name: "a.bin", Size: 3, Data: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", att.Type)
	assert.Equal(t, "/files/"+att.ID, att.URL)
	stored, ok := b.File(att.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), stored.Data)

	require.NoError(t, b.SaveDraft(ctx, model.Draft{ConversationID: "c_general", Text: "wip", Attachments: []model.Attachment{att}}))
	d, err = b.GetDraft(ctx, "c_general")
	require.NoError(t, err)
	assert.Equal(t, "wip", d.Text)
	assert.Len(t, d.Attachments, 1)
}

func TestSearchUsers(t *testing.T) {
	b, _ := newTestBackend()

	users, err := b.SearchUsers(context.Background(), "SA")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u_sam", users[0].UserID)

	all, err := b.SearchUsers(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLatencyHonoursContext(t *testing.T) {
	clk := clock.NewMock()
	b := New(nil, Options{Clock: clk, Latency: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.SendMessage(ctx, model.SendRequest{ConversationID: "c_general", Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPresenceChanges(t *testing.T) {
	b, _ := newTestBackend()
	b.SetOnline("u_sam", true)

	cs, _ := b.ListChanges(context.Background(), t0)
	for _, p := range cs.Changes.Presence {
		assert.True(t, p.Online, p.UserID)
	}
}
