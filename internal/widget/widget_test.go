package widget

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/demo"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/mutation"
	"github.com/matheus3301/chatsync/internal/status"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	widget  *Widget
	backend *demo.Backend
	clock   *clock.Mock
	machine *status.Machine
}

func newFixture(t *testing.T, tweak func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Widget.PollIntervalMS = 2000
	if tweak != nil {
		tweak(&cfg)
	}
	clk := clock.NewMock()
	clk.Set(t0)
	b := bus.New(nil)
	backend := demo.New(nil, demo.Options{Self: cfg.Widget.SelfUserID, Clock: clk, Rand: rand.New(rand.NewPCG(3, 4))})
	machine := status.NewMachine(b)
	w := Assemble(cfg, backend, b, nil, AssembleOptions{Clock: clk, Machine: machine})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		w.Stop(context.Background())
		cancel()
	})
	return &fixture{widget: w, backend: backend, clock: clk, machine: machine}
}

func TestStartLoadsEverything(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, status.Ready, f.machine.Current())
	assert.Len(t, f.widget.State.Conversations(), 2)
	assert.Equal(t, 1, f.widget.UnreadCount())
	assert.True(t, f.widget.State.Online("u_alex"))
	assert.False(t, f.widget.State.OnlineInConversation("c_support"))
}

func TestSelectWhileOpenMarksRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.widget.SelectConversation(ctx, "c_support"))
	assert.Equal(t, 1, f.widget.UnreadCount())

	require.NoError(t, f.widget.Open(ctx))
	assert.Zero(t, f.widget.UnreadCount())
	assert.True(t, f.widget.State.IsOpen())

	f.widget.Close()
	assert.False(t, f.widget.State.IsOpen())
	assert.ErrorIs(t, f.widget.SelectConversation(ctx, "nope"), ErrUnknownConversation)
}

func TestSendActiveDraft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.widget.SelectConversation(ctx, "c_general"))
	require.NoError(t, f.widget.SetDraftText("  hello team "))

	msg, err := f.widget.Send(ctx, model.Channels{Email: true})
	require.NoError(t, err)

	assert.False(t, model.IsTemporaryID(msg.ID))
	assert.Equal(t, "hello team", msg.Text)
	assert.Equal(t, model.Confirmed, msg.Delivery)
	assert.True(t, f.widget.State.Draft("c_general").IsEmpty())

	msgs := f.widget.State.Messages("c_general")
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.ID, msgs[1].ID)
}

func TestSendWithoutActiveConversation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.widget.Send(context.Background(), model.Channels{})
	assert.ErrorIs(t, err, ErrNoActiveConversation)
	assert.ErrorIs(t, f.widget.SetDraftText("x"), ErrNoActiveConversation)
	assert.ErrorIs(t, f.widget.MarkActiveAsRead(context.Background()), ErrNoActiveConversation)
}

func TestSendEmptyDraftRefused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.widget.SelectConversation(ctx, "c_general"))

	_, err := f.widget.Send(ctx, model.Channels{})
	assert.ErrorIs(t, err, mutation.ErrEmptyMessage)
	assert.Len(t, f.widget.State.Messages("c_general"), 1)
}

func TestSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.widget.SelectConversation(ctx, "c_general"))
	require.NoError(t, f.widget.SetDraftText("tomorrow"))

	_, err := f.widget.Schedule(ctx, t0.Add(-time.Minute), model.Channels{})
	assert.ErrorIs(t, err, ErrScheduleInPast)

	msg, err := f.widget.Schedule(ctx, t0.Add(24*time.Hour), model.Channels{SMS: true})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), msg.CreatedAt)
}

func TestStartConversationSelectsIt(t *testing.T) {
	f := newFixture(t, nil)
	events, unsub := f.widget.Events("conversation.", 4)
	defer unsub()

	conv, err := f.widget.StartConversation(context.Background(), []string{"u_jamie"})
	require.NoError(t, err)

	assert.Equal(t, conv.ID, f.widget.State.Active())
	assert.Len(t, f.widget.State.Conversations(), 3)
	require.Len(t, events, 1)
	assert.Equal(t, bus.KindConversationAdded, (<-events).Kind)
}

func TestSingleConversationMode(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Widget.CanStartMultipleConversations = false
	})

	_, err := f.widget.StartConversation(context.Background(), []string{"u_jamie"})
	assert.ErrorIs(t, err, ErrSingleConversation)
}

func TestParticipants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.widget.AddParticipant(ctx, "c_support", "u_jamie"))
	conv, _ := f.widget.State.Conversation("c_support")
	assert.Equal(t, []string{"me", "u_sam", "u_jamie"}, conv.Participants)

	require.NoError(t, f.widget.RemoveParticipant(ctx, "c_support", "u_sam"))
	conv, _ = f.widget.State.Conversation("c_support")
	assert.Equal(t, []string{"me", "u_jamie"}, conv.Participants)

	assert.Error(t, f.widget.AddParticipant(ctx, "missing", "u_sam"))
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t, nil)

	users, err := f.widget.SearchUsers(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, users)

	users, err = f.widget.SearchUsers(context.Background(), "alex")
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestAttachAndRemove(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.widget.SelectConversation(ctx, "c_general"))

	sel, err := f.widget.AttachFiles(ctx, []model.File{{Name: "a.txt", Size: 1, Data: []byte("a")}})
	require.NoError(t, err)
	require.Len(t, sel.Accepted, 1)
	f.widget.Uploads.Wait()

	d := f.widget.State.Draft("c_general")
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, model.AttachmentCommitted, d.Attachments[0].State)

	require.NoError(t, f.widget.RemoveAttachment(ctx, d.Attachments[0].ID))
	assert.Empty(t, f.widget.State.Draft("c_general").Attachments)
}

func TestEditAndDeleteOwnMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.widget.SelectConversation(ctx, "c_general"))
	require.NoError(t, f.widget.SetDraftText("typo"))
	msg, err := f.widget.Send(ctx, model.Channels{})
	require.NoError(t, err)

	require.NoError(t, f.widget.BeginEdit(msg.ID))
	require.NoError(t, f.widget.UpdateEdit(msg.ID, "fixed"))
	require.NoError(t, f.widget.SaveEdit(ctx, msg.ID))
	got, _ := f.widget.State.Message("c_general", msg.ID)
	assert.Equal(t, "fixed", got.Text)

	require.NoError(t, f.widget.DeleteMessage(ctx, msg.ID))
	_, ok := f.widget.State.Message("c_general", msg.ID)
	assert.False(t, ok)
}

func TestIncomingMessagesMarkedReadWhileOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.widget.SelectConversation(ctx, "c_general"))
	require.NoError(t, f.widget.Open(ctx))
	require.NoError(t, f.widget.SetDraftText("ping"))
	_, err := f.widget.Send(ctx, model.Channels{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.clock.Add(2 * time.Second)
		for _, m := range f.widget.State.Messages("c_general") {
			if m.AuthorID != demo.Responder || m.Text == "Welcome to the demo! 🎉" {
				continue
			}
			_, seen := m.SeenByUser("me")
			return seen && f.widget.UnreadCount() == 0
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
