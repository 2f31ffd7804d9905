// Package app wires the headless sync agent with fx.
package app

import (
	"context"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/demo"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/relay"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/widget"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // empty = session.ConfigPath()
	Listen      string // overrides ops.listen when set
}

// Module returns the fx module of the agent, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatsyncd",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideWidget,
			provideNATS,
			provideRelay,
			NewOpsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if p.Listen != "" {
		cfg.Ops.Listen = p.Listen
	}
	return cfg, cfg.Validate()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(logger.Named("bus"))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName), "chatsyncd")
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the cache is only opened while held.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CachePath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) api.Backend {
	if cfg.Widget.DemoMode {
		logger.Info("demo mode, using in-memory backend")
		return demo.New(logger.Named("demo"), demo.Options{Self: cfg.Widget.SelfUserID, Latency: true})
	}
	logger.Info("using remote backend", zap.String("base_url", cfg.URLs.BaseURL))
	return api.NewClient(cfg.URLs, &http.Client{Timeout: cfg.RequestTimeout()}, logger.Named("api"))
}

func provideWidget(cfg *config.Config, backend api.Backend, b *bus.Bus, db *store.DB, machine *status.Machine, logger *zap.Logger) *widget.Widget {
	return widget.Assemble(*cfg, backend, b, logger, widget.AssembleOptions{Cache: db, Machine: machine})
}

// provideNATS connects only when a relay URL is configured; nil otherwise.
func provideNATS(p Params, cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.Relay.NATSURL == "" {
		return nil, nil
	}
	nc, err := relay.Connect(cfg.Relay.NATSURL, "chatsyncd-"+p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

func provideRelay(cfg *config.Config, nc *nats.Conn, b *bus.Bus, logger *zap.Logger) *relay.Relay {
	if nc == nil {
		return nil
	}
	return relay.New(nc, b, cfg.Relay.SubjectPrefix, logger.Named("relay"))
}

func registerLifecycle(lc fx.Lifecycle, w *widget.Widget, ops *OpsServer, rl *relay.Relay, nc *nats.Conn, db *store.DB, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			b.Listen(ctx, "", logEvent(logger.Named("events")))
			if rl != nil {
				rl.Run(ctx)
			}
			if err := ops.Start(); err != nil {
				return err
			}
			// Blocks on the first full sync; a failed one is logged and
			// retried by the next poll.
			w.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			w.Stop(stopCtx)
			cancel()
			ops.Stop(stopCtx)
			if nc != nil {
				if err := nc.Drain(); err != nil {
					logger.Warn("error draining nats", zap.Error(err))
				}
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("agent stopped")
			return nil
		},
	})
}

// logEvent logs widget events; chatty kinds go to debug.
func logEvent(logger *zap.Logger) func(bus.Event) {
	return func(evt bus.Event) {
		fields := []zap.Field{zap.String("kind", string(evt.Kind)), zap.Any("payload", evt.Payload)}
		switch evt.Kind {
		case bus.KindSyncApplied, bus.KindTypingChanged, bus.KindDraftSaved:
			logger.Debug("event", fields...)
		case bus.KindSyncFailed, bus.KindMessageSendFailed, bus.KindUploadFailed:
			logger.Warn("event", fields...)
		default:
			logger.Info("event", fields...)
		}
	}
}
