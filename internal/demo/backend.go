// Package demo is an in-memory backend for demo mode. It seeds a couple of
// users and conversations, answers every call of the contract and simulates a
// colleague who types and auto-replies after each sent message.
package demo

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/model"
)

var (
	ErrNotFound             = errors.New("not_found")
	ErrConversationNotFound = errors.New("conversation_not_found")
	ErrNoParticipants       = errors.New("no_participants")
)

// Responder is the user who types and answers in demo conversations.
const Responder = "u_alex"

// Options configures a Backend.
type Options struct {
	Self  string
	Clock clock.Clock
	// Rand drives reply delays and texts; nil seeds from the clock.
	Rand *rand.Rand
	// Latency delays send and upload calls like a remote server would.
	Latency bool
}

// Backend implements api.Backend in memory.
type Backend struct {
	mu            sync.Mutex
	self          string
	clock         clock.Clock
	rand          *rand.Rand
	latency       bool
	logger        *zap.Logger
	users         []model.User
	conversations []*model.Conversation
	messages      []*model.Message
	drafts        map[string]model.Draft
	typing        map[string]map[string]time.Time
	files         map[string]StoredFile
}

// StoredFile is an uploaded file kept for download.
type StoredFile struct {
	Attachment model.Attachment
	Data       []byte
}

// New creates a seeded demo backend.
func New(logger *zap.Logger, opts Options) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Self == "" {
		opts.Self = "me"
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Rand == nil {
		seed := uint64(opts.Clock.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	b := &Backend{
		self:    opts.Self,
		clock:   opts.Clock,
		rand:    opts.Rand,
		latency: opts.Latency,
		logger:  logger,
		drafts:  make(map[string]model.Draft),
		typing:  make(map[string]map[string]time.Time),
		files:   make(map[string]StoredFile),
	}
	b.seed()
	return b
}

func (b *Backend) seed() {
	now := b.clock.Now()
	b.users = []model.User{
		{UserID: b.self, Name: "You", Online: true},
		{UserID: "u_alex", Name: "Alex", Online: true},
		{UserID: "u_sam", Name: "Sam", Online: false},
		{UserID: "u_jamie", Name: "Jamie", Online: true},
	}
	b.conversations = []*model.Conversation{
		{ID: "c_general", Name: "General", Participants: []string{b.self, "u_alex", "u_jamie"}, CreatedAt: now, UpdatedAt: now},
		{ID: "c_support", Name: "Support", Participants: []string{b.self, "u_sam"}, CreatedAt: now, UpdatedAt: now},
	}
	b.messages = []*model.Message{
		{
			ID: newID("m_"), ConversationID: "c_general", AuthorID: "u_alex",
			Text: "Welcome to the demo! 🎉", CreatedAt: now, UpdatedAt: now,
			Attachments: []model.Attachment{}, Channels: model.Channels{WhatsApp: true},
			SeenBy: []model.SeenReceipt{{UserID: b.self, At: now}},
		},
		{
			ID: newID("m_"), ConversationID: "c_support", AuthorID: "u_sam",
			Text: "How can I help?", CreatedAt: now, UpdatedAt: now,
			Attachments: []model.Attachment{}, Channels: model.Channels{SMS: true, Email: true},
			SeenBy: []model.SeenReceipt{},
		},
	}
}

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

// ListChanges returns conversations and messages changed after since, the
// live typing entries and the presence of every user.
func (b *Backend) ListChanges(_ context.Context, since time.Time) (model.ChangeSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()

	ch := model.Changes{
		Conversations: []model.Conversation{},
		Messages:      []model.Message{},
		Typing:        []model.TypingEntry{},
		Presence:      make([]model.PresenceEntry, 0, len(b.users)),
	}
	for _, c := range b.conversations {
		if c.UpdatedAt.After(since) || c.CreatedAt.After(since) {
			ch.Conversations = append(ch.Conversations, c.Clone())
		}
	}
	for _, m := range b.messages {
		if m.UpdatedAt.After(since) {
			ch.Messages = append(ch.Messages, m.Clone())
		}
	}
	for cid, byUser := range b.typing {
		for uid, until := range byUser {
			if until.After(now) {
				ch.Typing = append(ch.Typing, model.TypingEntry{ConversationID: cid, UserID: uid, Until: until})
			}
		}
	}
	for _, u := range b.users {
		ch.Presence = append(ch.Presence, model.PresenceEntry{UserID: u.UserID, Online: u.Online})
	}
	return model.ChangeSet{Changes: ch, ServerTime: now}, nil
}

// SendMessage stores the message and makes the responder type and reply.
func (b *Backend) SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error) {
	if err := b.wait(ctx, 250*time.Millisecond, 400*time.Millisecond); err != nil {
		return model.Message{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	conv := b.conversation(req.ConversationID)
	if conv == nil {
		return model.Message{}, ErrConversationNotFound
	}

	now := b.clock.Now()
	at := now
	if req.ScheduleIn != nil {
		at = now.Add(time.Duration(*req.ScheduleIn) * time.Second)
	}
	attachments := model.CloneAttachments(req.Attachments)
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	msg := &model.Message{
		ID:             newID("m_"),
		ConversationID: conv.ID,
		AuthorID:       b.self,
		Text:           req.Text,
		CreatedAt:      at,
		UpdatedAt:      at,
		Attachments:    attachments,
		Channels:       req.Channels,
		SeenBy:         []model.SeenReceipt{},
	}
	b.messages = append(b.messages, msg)
	conv.UpdatedAt = at

	b.setTyping(conv.ID, Responder, now.Add(b.jitter(1500*time.Millisecond, 1500*time.Millisecond)))
	b.clock.AfterFunc(b.jitter(800*time.Millisecond, 1500*time.Millisecond), func() {
		b.reply(conv.ID)
	})
	return msg.Clone(), nil
}

func (b *Backend) reply(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv := b.conversation(conversationID)
	if conv == nil {
		return
	}
	text := "Got it!"
	if b.rand.IntN(2) == 0 {
		text = "👍"
	}
	now := b.clock.Now()
	b.messages = append(b.messages, &model.Message{
		ID:             newID("m_"),
		ConversationID: conversationID,
		AuthorID:       Responder,
		Text:           "Auto-reply (demo): " + text,
		CreatedAt:      now,
		UpdatedAt:      now,
		Attachments:    []model.Attachment{},
		Channels:       model.Channels{WhatsApp: true},
		SeenBy:         []model.SeenReceipt{},
	})
	conv.UpdatedAt = now
	b.logger.Debug("demo auto-reply", zap.String("conversation_id", conversationID))
}

// EditMessage replaces the text of a message.
func (b *Backend) EditMessage(_ context.Context, id, newText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.messageIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	b.messages[i].Text = newText
	b.messages[i].UpdatedAt = b.clock.Now()
	return nil
}

// DeleteMessage removes a message. Polls never report deletions.
func (b *Backend) DeleteMessage(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.messageIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	b.messages = append(b.messages[:i], b.messages[i+1:]...)
	return nil
}

// UploadFile keeps the file and returns its committed attachment.
func (b *Backend) UploadFile(ctx context.Context, f model.File) (model.Attachment, error) {
	if err := b.wait(ctx, 300*time.Millisecond, 500*time.Millisecond); err != nil {
		return model.Attachment{}, err
	}
	typ := f.Type
	if typ == "" {
		typ = "application/octet-stream"
	}
	id := newID("f_")
	att := model.Attachment{
		ID:   id,
		Name: f.Name,
		Size: f.Size,
		Type: typ,
		URL:  "/files/" + id,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[id] = StoredFile{Attachment: att, Data: append([]byte(nil), f.Data...)}
	return att, nil
}

// File returns an uploaded file.
func (b *Backend) File(id string) (StoredFile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[id]
	return f, ok
}

// SaveDraft stores the draft of a conversation.
func (b *Backend) SaveDraft(_ context.Context, d model.Draft) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d = d.Clone()
	if d.Attachments == nil {
		d.Attachments = []model.Attachment{}
	}
	b.drafts[d.ConversationID] = d
	return nil
}

// GetDraft returns the stored draft or an empty one.
func (b *Backend) GetDraft(_ context.Context, conversationID string) (model.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.drafts[conversationID]; ok {
		return d.Clone(), nil
	}
	return model.Draft{ConversationID: conversationID, Attachments: []model.Attachment{}}, nil
}

// StartConversation creates a conversation named after the other
// participants. The local user is always part of it.
func (b *Backend) StartConversation(_ context.Context, participants []string) (model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := []string{b.self}
	var names []string
	for _, p := range participants {
		if p == "" || contains(members, p) {
			continue
		}
		members = append(members, p)
		names = append(names, b.userName(p))
	}
	if len(names) == 0 {
		return model.Conversation{}, ErrNoParticipants
	}

	now := b.clock.Now()
	conv := &model.Conversation{
		ID:           newID("c_"),
		Name:         "Chat with " + strings.Join(names, ", "),
		Participants: members,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.conversations = append(b.conversations, conv)
	return conv.Clone(), nil
}

// AddParticipant adds a user to a conversation.
func (b *Backend) AddParticipant(_ context.Context, conversationID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv := b.conversation(conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	if !contains(conv.Participants, userID) {
		conv.Participants = append(conv.Participants, userID)
	}
	conv.UpdatedAt = b.clock.Now()
	return nil
}

// RemoveParticipant removes a user from a conversation.
func (b *Backend) RemoveParticipant(_ context.Context, conversationID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv := b.conversation(conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	kept := conv.Participants[:0]
	for _, p := range conv.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	conv.Participants = kept
	conv.UpdatedAt = b.clock.Now()
	return nil
}

// MarkAsRead records the local user's receipt on the given messages.
func (b *Backend) MarkAsRead(_ context.Context, conversationID string, messageIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	for _, m := range b.messages {
		if m.ConversationID == conversationID && contains(messageIDs, m.ID) {
			m.MarkSeen(b.self, now)
			m.UpdatedAt = now
		}
	}
	return nil
}

// SearchUsers matches other users by id or name, case-insensitively.
func (b *Backend) SearchUsers(_ context.Context, query string) ([]model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	out := []model.User{}
	for _, u := range b.users {
		if u.UserID == b.self {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.UserID), q) {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetOnline changes the presence of a user.
func (b *Backend) SetOnline(userID string, online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.users {
		if b.users[i].UserID == userID {
			b.users[i].Online = online
		}
	}
}

func (b *Backend) setTyping(conversationID, userID string, until time.Time) {
	byUser := b.typing[conversationID]
	if byUser == nil {
		byUser = make(map[string]time.Time)
		b.typing[conversationID] = byUser
	}
	byUser[userID] = until
}

func (b *Backend) conversation(id string) *model.Conversation {
	for _, c := range b.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (b *Backend) messageIndex(id string) int {
	for i, m := range b.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (b *Backend) userName(id string) string {
	for _, u := range b.users {
		if u.UserID == id {
			return u.Name
		}
	}
	return id
}

// jitter returns base plus a random share of spread. Callers hold mu.
func (b *Backend) jitter(base, spread time.Duration) time.Duration {
	return base + time.Duration(b.rand.Int64N(int64(spread)))
}

func (b *Backend) wait(ctx context.Context, base, spread time.Duration) error {
	if !b.latency {
		return nil
	}
	b.mu.Lock()
	d := b.jitter(base, spread)
	b.mu.Unlock()

	t := b.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
