package daemon

import (
	"context"

	"github.com/matheus3301/chatlog/internal/api"
	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/config"
	"github.com/matheus3301/chatlog/internal/directory"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/ingest"
	"github.com/matheus3301/chatlog/internal/lock"
	"github.com/matheus3301/chatlog/internal/logging"
	"github.com/matheus3301/chatlog/internal/metrics"
	"github.com/matheus3301/chatlog/internal/outbox"
	"github.com/matheus3301/chatlog/internal/recent"
	"github.com/matheus3301/chatlog/internal/session"
	"github.com/matheus3301/chatlog/internal/status"
	"github.com/matheus3301/chatlog/internal/store"
	"github.com/matheus3301/chatlog/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMetrics,
			provideLock,
			provideStore,
			provideDirectory,
			provideHistoryOptions,
			provideWriter,
			provideEngine,
			provideSource,
			provideAdapter,
			provideReconciler,
			provideIngestEngine,
			provideOutbox,
			provideSessionService,
			provideHistoryService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.Logging.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.SessionMachine {
	return status.NewSessionMachine(b)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.HistoryDBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDirectory(p Params, db *store.DB, logger *zap.Logger) (*directory.Directory, error) {
	return directory.New(db, p.Config.History.PhoneRegion, p.Config.History.CacheSize, logger)
}

func provideHistoryOptions(p Params) history.Options {
	return history.Options{
		StorageTimeout: p.Config.History.StorageTimeout,
		DefaultSubject: p.Config.History.DefaultSubject,
	}
}

func provideWriter(db *store.DB, dir *directory.Directory, b *bus.Bus, opts history.Options, m *metrics.Metrics, logger *zap.Logger) *history.Writer {
	return history.NewWriter(db, dir, b, opts, m, logger)
}

func provideEngine(db *store.DB, dir *directory.Directory, opts history.Options, m *metrics.Metrics, logger *zap.Logger) *history.Engine {
	return history.NewEngine(db, dir, opts, m, logger)
}

func provideSource(p Params, engine *history.Engine, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *recent.Source {
	return recent.NewSource(engine, b, p.Config.History.RecentLimit, m, logger)
}

func provideAdapter(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, b, logger)
}

func provideReconciler(db *store.DB) *ingest.Reconciler {
	return ingest.NewReconciler(db)
}

func provideIngestEngine(writer *history.Writer, dir *directory.Directory, r *ingest.Reconciler, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(writer, dir, r, b, logger)
}

func provideOutbox(p Params, writer *history.Writer, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(writer, adapter, b, p.Config.API.SendQueue, logger)
}

func provideSessionService(p Params, m *status.SessionMachine, adapter *wa.Adapter, db *store.DB, r *ingest.Reconciler, source *recent.Source, sender *outbox.Sender, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, adapter, db, r, source, sender, logger)
}

func provideHistoryService(writer *history.Writer, engine *history.Engine, source *recent.Source, b *bus.Bus, logger *zap.Logger) *api.HistoryService {
	return api.NewHistoryService(writer, engine, source, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	metricsSrv *MetricsServer,
	lk *lock.Lock,
	db *store.DB,
	adapter *wa.Adapter,
	engine *ingest.Engine,
	sender *outbox.Sender,
	source *recent.Source,
	machine *status.SessionMachine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start ingest engine (subscribes to wa.* bus events).
			engine.Start(context.Background())
			sender.Start(context.Background())

			// Register event handler for whatsmeow events.
			handler := wa.NewEventHandler(b, machine, adapter, logger)
			adapter.RegisterEventHandler(handler.Handle)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			metricsSrv.Start()

			// Transition state based on auth status.
			if adapter.IsLoggedIn() {
				_ = machine.Transition(status.Connecting)
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			adapter.Disconnect()
			// Closing the source ends WatchRecent streams so the server can drain.
			source.Close()
			srv.Stop(ctx)
			engine.Stop()
			metricsSrv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
