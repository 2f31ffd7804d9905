package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/matheus3301/chatsync/internal/model"
)

// MirrorMock stands in for the local cache.
type MirrorMock struct {
	mock.Mock
}

func (m *MirrorMock) SaveChanges(convs []model.Conversation, msgs []model.Message) error {
	args := m.Called(convs, msgs)
	return args.Error(0)
}

func (m *MirrorMock) SetCheckpoint(key, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

// PublisherMock stands in for a NATS connection.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}
