package bus

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus with prefix filtering.
// Delivery never blocks the publisher: a full subscriber misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	logger *zap.Logger
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates a new event bus. A nil logger disables drop and panic logging.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[int]*subscription),
		logger: logger,
	}
}

// Publish stamps and delivers a payload to every subscriber whose prefix
// matches kind.
func (b *Bus) Publish(kind Kind, payload any) {
	b.PublishEvent(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// PublishEvent delivers a prepared event.
func (b *Bus) PublishEvent(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(string(evt.Kind), sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug("event dropped, subscriber full",
				zap.String("kind", string(evt.Kind)), zap.String("prefix", sub.prefix))
		}
	}
}

// Subscribe returns a channel receiving events whose kind starts with prefix,
// and a function that cancels the subscription.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Listen calls fn for each matching event until ctx is done. A panicking
// handler is logged and does not stop the listener.
func (b *Bus) Listen(ctx context.Context, prefix string, fn func(Event)) {
	ch, unsub := b.Subscribe(prefix, 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				b.dispatch(fn, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Bus) dispatch(fn func(Event), evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(evt.Kind)), zap.Any("panic", r))
		}
	}()
	fn(evt)
}
