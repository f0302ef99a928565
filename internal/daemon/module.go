package daemon

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/fanout"
	"github.com/matheus3301/livesync/internal/lock"
	"github.com/matheus3301/livesync/internal/logging"
	"github.com/matheus3301/livesync/internal/metrics"
	"github.com/matheus3301/livesync/internal/relay"
	"github.com/matheus3301/livesync/internal/store"
	"github.com/matheus3301/livesync/internal/wa"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use config
	Quiet      bool   // log to the file only
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideDeliverer,
			provideRelay,
			provideAPI,
			provideMetrics,
			provideNATS,
			provideMirror,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := p.Config.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(p.Config.LogPath("livesyncd"), "livesyncd", logging.Options{
		Level:   p.Config.LogLevel,
		Console: !p.Quiet,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore takes the lock so that the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.Config.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate(logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	released, err := db.ReleaseSending()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if released > 0 {
		logger.Warn("sends interrupted by the previous run marked failed", zap.Int64("count", released))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideAdapter returns nil when WhatsApp is disabled.
func provideAdapter(p Params, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	if !p.Config.WhatsApp.Enabled {
		logger.Info("whatsapp disabled, sends are accepted locally")
		return nil, nil
	}
	return wa.NewAdapter(context.Background(), p.Config.DevicePath(), p.Config.WhatsApp.DeviceName, b, logger)
}

func provideDeliverer(adapter *wa.Adapter) relay.Deliverer {
	if adapter == nil {
		return relay.Loopback{}
	}
	return adapter
}

func provideRelay(db *store.DB, b *bus.Bus, d relay.Deliverer, logger *zap.Logger) *relay.Relay {
	return relay.New(db, b, d, logger)
}

func provideAPI(r *relay.Relay, adapter *wa.Adapter, logger *zap.Logger) *api.Server {
	var session api.Session
	if adapter != nil {
		session = adapter
	}
	return api.NewServer(r, session, logger)
}

// provideMetrics returns nil when no listen address is configured.
func provideMetrics(p Params, logger *zap.Logger) *metrics.Server {
	if p.Config.Metrics.ListenAddr == "" {
		return nil
	}
	return metrics.NewServer(p.Config.Metrics.ListenAddr, logger)
}

// provideNATS returns nil when no NATS URL is configured.
func provideNATS(p Params, logger *zap.Logger) (*nats.Conn, error) {
	if p.Config.NATS.URL == "" {
		return nil, nil
	}
	return fanout.Connect(p.Config.NATS.URL, "livesyncd", logger)
}

func provideMirror(p Params, b *bus.Bus, nc *nats.Conn, logger *zap.Logger) *fanout.Mirror {
	if nc == nil {
		return nil
	}
	return fanout.New(b, nc, p.Config.NATS.SubjectPrefix, logger)
}

type lifecycleParams struct {
	fx.In

	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Bus     *bus.Bus
	Relay   *relay.Relay
	Adapter *wa.Adapter
	Metrics *metrics.Server
	NATS    *nats.Conn
	Mirror  *fanout.Mirror
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consume wa/* events before the adapter can produce any.
			go lp.Relay.Run(ctx)

			if lp.Mirror != nil {
				lp.Mirror.Run(ctx)
			}
			if lp.Metrics != nil {
				if err := lp.Metrics.Start(); err != nil {
					return err
				}
			}

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if lp.Adapter == nil {
				return nil
			}
			handler := wa.NewEventHandler(lp.Bus, logger)
			lp.Adapter.RegisterEventHandler(handler.Handle)
			if lp.Adapter.IsLoggedIn() {
				go func() {
					if err := lp.Adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no whatsapp credentials found, run livesyncctl pair")
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if lp.Adapter != nil {
				lp.Adapter.Disconnect()
			}
			lp.Server.Stop(stopCtx)
			if lp.Metrics != nil {
				if err := lp.Metrics.Stop(stopCtx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if lp.NATS != nil {
				if err := lp.NATS.Drain(); err != nil {
					logger.Warn("error draining nats connection", zap.Error(err))
				}
			}
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
