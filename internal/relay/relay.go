// Package relay forwards widget events to NATS so host processes can follow
// the widget without embedding it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
)

// Publisher is the part of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body of a relayed event.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      bus.Kind  `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Relay publishes every bus event on <prefix>.<kind>.
type Relay struct {
	pub    Publisher
	bus    *bus.Bus
	prefix string
	logger *zap.Logger
	newID  func() string
}

// New creates a relay. An empty prefix publishes on the bare kind.
func New(pub Publisher, b *bus.Bus, prefix string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		pub:    pub,
		bus:    b,
		prefix: strings.Trim(prefix, "."),
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Run forwards events until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	r.bus.Listen(ctx, "", r.Forward)
}

// Subject returns the subject an event kind is published on.
func (r *Relay) Subject(kind bus.Kind) string {
	if r.prefix == "" {
		return string(kind)
	}
	return r.prefix + "." + string(kind)
}

// Forward publishes one event. Failures are logged and the event is lost.
func (r *Relay) Forward(evt bus.Event) {
	data, err := json.Marshal(Envelope{
		ID:        r.newID(),
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	})
	if err != nil {
		r.logger.Warn("failed to encode event", zap.String("kind", string(evt.Kind)), zap.Error(err))
		return
	}
	if err := r.pub.Publish(r.Subject(evt.Kind), data); err != nil {
		r.logger.Warn("failed to relay event", zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}
