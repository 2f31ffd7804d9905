// Package api defines the backend contract of the widget and an HTTP JSON
// client for it. Every response carries an "ok" flag; a false flag, a
// transport failure and a malformed body are all reported as an *OpError.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// ErrRejected means the server answered with ok=false.
var ErrRejected = errors.New("rejected by server")

// OpError reports a failed backend operation.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Backend is the remote side of the widget.
type Backend interface {
	// ListChanges returns everything changed after since. A zero since asks
	// for the full state.
	ListChanges(ctx context.Context, since time.Time) (model.ChangeSet, error)
	SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error)
	EditMessage(ctx context.Context, id, newText string) error
	DeleteMessage(ctx context.Context, id string) error
	UploadFile(ctx context.Context, f model.File) (model.Attachment, error)
	SaveDraft(ctx context.Context, d model.Draft) error
	GetDraft(ctx context.Context, conversationID string) (model.Draft, error)
	StartConversation(ctx context.Context, participants []string) (model.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	MarkAsRead(ctx context.Context, conversationID string, messageIDs []string) error
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
}

// Request and response bodies of the contract.
type (
	EditRequest struct {
		ID      string `json:"id"`
		NewText string `json:"newText"`
	}
	DeleteRequest struct {
		ID string `json:"id"`
	}
	StartConversationRequest struct {
		Participants []string `json:"participants"`
	}
	ParticipantRequest struct {
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
	}
	MarkAsReadRequest struct {
		ConversationID string   `json:"conversationId"`
		MessageIDs     []string `json:"messageIds"`
	}

	// Envelope is the common response shape. Only the field matching the
	// operation is set.
	Envelope struct {
		OK           bool                `json:"ok"`
		Error        string              `json:"error,omitempty"`
		Changes      *model.Changes      `json:"changes,omitempty"`
		ServerTime   *time.Time          `json:"serverTime,omitempty"`
		Message      *model.Message      `json:"message,omitempty"`
		Attachment   *model.Attachment   `json:"attachment,omitempty"`
		Draft        *model.Draft        `json:"draft,omitempty"`
		Conversation *model.Conversation `json:"conversation,omitempty"`
		Results      []model.User        `json:"results,omitempty"`
	}
)

// Reject builds the error for a non-ok envelope.
func Reject(op, reason string) error {
	if reason == "" {
		return &OpError{Op: op, Err: ErrRejected}
	}
	return &OpError{Op: op, Err: fmt.Errorf("%w: %s", ErrRejected, reason)}
}
