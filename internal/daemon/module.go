package daemon

import (
	"context"
	"os"

	"github.com/hireloop/wabridge/internal/bus"
	"github.com/hireloop/wabridge/internal/config"
	"github.com/hireloop/wabridge/internal/crm"
	"github.com/hireloop/wabridge/internal/httpapi"
	"github.com/hireloop/wabridge/internal/ingest"
	"github.com/hireloop/wabridge/internal/lock"
	"github.com/hireloop/wabridge/internal/logging"
	"github.com/hireloop/wabridge/internal/manager"
	"github.com/hireloop/wabridge/internal/media"
	"github.com/hireloop/wabridge/internal/store"
	"github.com/hireloop/wabridge/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds startup options passed to the fx module.
type Params struct {
	ConfigPath string
	DataDir    string
}

// Module composes all providers and lifecycle hooks for the gateway daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideMediaStore,
			provideNotifier,
			provideDirectory,
			provideEngine,
			provideManager,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath, p.DataDir)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired", zap.String("dir", cfg.DataDir))
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.AppDBPath())
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
	return db, nil
}

func provideMediaStore(cfg *config.Config) (*media.Store, error) {
	return media.NewStore(cfg.MediaDir)
}

func provideNotifier(logger *zap.Logger) crm.Notifier {
	return &crm.LogNotifier{Logger: logger}
}

func provideDirectory() crm.Directory {
	return crm.NopDirectory{}
}

func provideEngine(db *store.DB, ms *media.Store, dir crm.Directory, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, ms, dir, b, cfg.HistoryChunkSize, logger)
}

func provideManager(db *store.DB, engine *ingest.Engine, b *bus.Bus, notifier crm.Notifier, cfg *config.Config, logger *zap.Logger) (*manager.Manager, error) {
	factory := func(ctx context.Context, userID string, sink manager.EventSink) (manager.Connector, error) {
		if err := os.MkdirAll(cfg.UserDir(userID), 0o700); err != nil {
			return nil, err
		}
		return wa.NewAdapter(ctx, userID, cfg.CredentialDBPath(userID), sink, logger)
	}
	return manager.New(db, engine, b, notifier, factory, nil, manager.Config{
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		RetryDelay:           cfg.RetryDelay(),
		QueueSize:            cfg.EventQueueSize,
	}, logger), nil
}

func provideServer(cfg *config.Config, mgr *manager.Manager, db *store.DB, b *bus.Bus, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.ListenAddr, mgr, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, sd fx.Shutdowner, srv *httpapi.Server, mgr *manager.Manager, engine *ingest.Engine, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			errc := srv.Start()
			go func() {
				if err, ok := <-errc; ok && err != nil {
					logger.Error("http server error", zap.Error(err))
					_ = sd.Shutdown()
				}
			}()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Shutdown(ctx)
			engine.Close()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close error", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release error", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
