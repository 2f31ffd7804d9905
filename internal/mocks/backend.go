package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/matheus3301/chatsync/internal/model"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ListChanges(ctx context.Context, since time.Time) (model.ChangeSet, error) {
	args := m.Called(ctx, since)
	var cs model.ChangeSet
	if val := args.Get(0); val != nil {
		cs = val.(model.ChangeSet)
	}
	return cs, args.Error(1)
}

func (m *BackendMock) SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error) {
	args := m.Called(ctx, req)
	var msg model.Message
	if val := args.Get(0); val != nil {
		msg = val.(model.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) EditMessage(ctx context.Context, id, newText string) error {
	args := m.Called(ctx, id, newText)
	return args.Error(0)
}

func (m *BackendMock) DeleteMessage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *BackendMock) UploadFile(ctx context.Context, f model.File) (model.Attachment, error) {
	args := m.Called(ctx, f)
	var att model.Attachment
	if val := args.Get(0); val != nil {
		att = val.(model.Attachment)
	}
	return att, args.Error(1)
}

func (m *BackendMock) SaveDraft(ctx context.Context, d model.Draft) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *BackendMock) GetDraft(ctx context.Context, conversationID string) (model.Draft, error) {
	args := m.Called(ctx, conversationID)
	var d model.Draft
	if val := args.Get(0); val != nil {
		d = val.(model.Draft)
	}
	return d, args.Error(1)
}

func (m *BackendMock) StartConversation(ctx context.Context, participants []string) (model.Conversation, error) {
	args := m.Called(ctx, participants)
	var c model.Conversation
	if val := args.Get(0); val != nil {
		c = val.(model.Conversation)
	}
	return c, args.Error(1)
}

func (m *BackendMock) AddParticipant(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *BackendMock) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *BackendMock) MarkAsRead(ctx context.Context, conversationID string, messageIDs []string) error {
	args := m.Called(ctx, conversationID, messageIDs)
	return args.Error(0)
}

func (m *BackendMock) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	args := m.Called(ctx, query)
	var users []model.User
	if val := args.Get(0); val != nil {
		users = val.([]model.User)
	}
	return users, args.Error(1)
}
