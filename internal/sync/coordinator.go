package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
)

// ErrBusy is returned when a sync is requested while another is running.
var ErrBusy = errors.New("sync already in progress")

// Checkpointer persists the cursor between runs.
type Checkpointer interface {
	SetCheckpoint(key, value string) error
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Interval    time.Duration
	Clock       clock.Clock
	Checkpoints Checkpointer
}

// Coordinator runs the full sync and the periodic polls. It owns the cursor,
// which only ever moves forward to a server-reported time.
type Coordinator struct {
	backend     api.Backend
	reconciler  *Reconciler
	status      *status.Machine
	bus         *bus.Bus
	checkpoints Checkpointer
	clock       clock.Clock
	interval    time.Duration
	logger      *zap.Logger

	busy   atomic.Bool
	mu     sync.Mutex
	cursor time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a new sync coordinator.
func NewCoordinator(backend api.Backend, rec *Reconciler, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Coordinator{
		backend:     backend,
		reconciler:  rec,
		status:      machine,
		bus:         b,
		checkpoints: opts.Checkpoints,
		clock:       opts.Clock,
		interval:    config.ClampPollInterval(opts.Interval),
		logger:      logger,
	}
}

// Interval returns the effective polling interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Cursor returns the server time of the last applied sync.
func (c *Coordinator) Cursor() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// FullSync fetches the complete state and initializes the cursor.
func (c *Coordinator) FullSync(ctx context.Context) error {
	if c.status != nil {
		if err := c.status.Ensure(status.Syncing); err != nil {
			c.logger.Debug("status not updated", zap.Error(err))
		}
	}
	return c.run(ctx, time.Time{})
}

// Poll fetches the changes since the cursor. It returns ErrBusy instead of
// overlapping a running sync.
func (c *Coordinator) Poll(ctx context.Context) error {
	return c.run(ctx, c.Cursor())
}

func (c *Coordinator) run(ctx context.Context, since time.Time) error {
	if !c.busy.CompareAndSwap(false, true) {
		metrics.IncPoll(metrics.ResultSkipped)
		return ErrBusy
	}
	defer c.busy.Store(false)

	cs, err := c.backend.ListChanges(ctx, since)
	if err != nil {
		metrics.IncPoll(metrics.ResultFailed)
		c.logger.Warn("sync failed, keeping cursor", zap.Time("cursor", since), zap.Error(err))
		c.bus.Publish(bus.KindSyncFailed, bus.SyncFailed{Cursor: since, Err: err.Error()})
		c.setStatus(status.Degraded)
		return fmt.Errorf("list changes: %w", err)
	}

	res := c.reconciler.ApplyChanges(cs.Changes)
	cursor := c.advance(cs.ServerTime)
	metrics.IncPoll(metrics.ResultOK)
	c.setStatus(status.Ready)

	c.bus.Publish(bus.KindSyncApplied, bus.SyncApplied{
		Cursor:           cursor,
		Conversations:    res.Conversations,
		Messages:         res.Messages,
		NewConversations: len(res.NewConversations),
		NewMessages:      len(res.NewMessages),
	})
	return nil
}

// advance moves the cursor to serverTime unless that would move it backwards.
// A response without a server time leaves the cursor where it was.
func (c *Coordinator) advance(serverTime time.Time) time.Time {
	c.mu.Lock()
	if !serverTime.After(c.cursor) {
		cur := c.cursor
		c.mu.Unlock()
		return cur
	}
	c.cursor = serverTime
	c.mu.Unlock()

	metrics.SetCursor(serverTime)
	if c.checkpoints != nil {
		if err := c.checkpoints.SetCheckpoint(store.CursorKey, serverTime.UTC().Format(time.RFC3339Nano)); err != nil {
			c.logger.Warn("failed to persist cursor", zap.Error(err))
		}
	}
	return serverTime
}

func (c *Coordinator) setStatus(to status.State) {
	if c.status == nil {
		return
	}
	if err := c.status.Ensure(to); err != nil {
		c.logger.Debug("status not updated", zap.Error(err))
	}
}

// Start runs a full sync and then polls on every tick until Stop. A failed
// full sync does not prevent polling; the first poll then asks for everything.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.FullSync(ctx); err != nil {
		c.logger.Warn("initial sync failed", zap.Error(err))
	}

	ticker := c.clock.Ticker(c.interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// tick polls in the background; a tick arriving while a poll is still
// running is skipped.
func (c *Coordinator) tick(ctx context.Context) {
	if c.busy.Load() {
		metrics.IncPoll(metrics.ResultSkipped)
		c.logger.Debug("poll tick skipped, previous poll still running")
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Poll(ctx); err != nil && !errors.Is(err, ErrBusy) {
			c.logger.Debug("poll dropped", zap.Error(err))
		}
	}()
}

// Stop stops polling and waits for a running poll to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.setStatus(status.Stopped)
}
