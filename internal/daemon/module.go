// Package daemon composes the long-running wacrmd process: session
// adapter, event bridge, cache store, sync service, reminder worker and
// the UI gateway.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/bridge"
	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/config"
	"github.com/rafaelmv/wacrm/internal/gateway"
	"github.com/rafaelmv/wacrm/internal/lock"
	"github.com/rafaelmv/wacrm/internal/logging"
	"github.com/rafaelmv/wacrm/internal/media"
	"github.com/rafaelmv/wacrm/internal/reconcile"
	"github.com/rafaelmv/wacrm/internal/reminder"
	"github.com/rafaelmv/wacrm/internal/session"
	"github.com/rafaelmv/wacrm/internal/status"
	"github.com/rafaelmv/wacrm/internal/store"
	"github.com/rafaelmv/wacrm/internal/syncer"
	"github.com/rafaelmv/wacrm/internal/wa"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			provideMaterializer,
			provideChatList,
			provideBridge,
			provideSyncService,
			provideScheduler,
			provideGateway,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDirs(p.SessionName); err != nil {
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

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideAdapter(p Params, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, logger)
}

func provideMaterializer(p Params, adapter *wa.Adapter, logger *zap.Logger) *media.Materializer {
	return media.NewMaterializer(session.MediaDir(p.SessionName), adapter, logger)
}

func provideChatList() *reconcile.ChatList {
	return reconcile.NewChatList()
}

func provideBridge(db *store.DB, b *bus.Bus, machine *status.Machine, m *media.Materializer, cfg *config.Config, logger *zap.Logger) *bridge.Bridge {
	return bridge.New(db, b, machine, m, logger, cfg.MessageRetention, cfg.SyncMediaConcurrency)
}

func provideSyncService(db *store.DB, b *bus.Bus, machine *status.Machine, adapter *wa.Adapter, logger *zap.Logger) *syncer.Service {
	return syncer.New(db, b, machine, adapter, logger)
}

func provideScheduler(db *store.DB, b *bus.Bus, machine *status.Machine, adapter *wa.Adapter, cfg *config.Config, logger *zap.Logger) *reminder.Scheduler {
	return reminder.New(db, b, machine, adapter, logger,
		cfg.PollInterval(), cfg.ReminderBatchSize, cfg.MessageRetention)
}

func provideGateway(db *store.DB, b *bus.Bus, machine *status.Machine, adapter *wa.Adapter, svc *syncer.Service, m *media.Materializer, chats *reconcile.ChatList, cfg *config.Config, logger *zap.Logger) *gateway.Server {
	return gateway.New(gateway.Config{
		DB:        db,
		Bus:       b,
		Machine:   machine,
		Session:   adapter,
		Sync:      svc,
		Media:     m,
		ChatList:  chats,
		Logger:    logger,
		AuthToken: cfg.AuthToken,
		Retention: cfg.MessageRetention,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, adapter *wa.Adapter, br *bridge.Bridge, gw *gateway.Server, sched *reminder.Scheduler, chats *reconcile.ChatList, machine *status.Machine, logger *zap.Logger) {
	runCtx, stopRun := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm the chat-list projection from the cache.
			if rows, err := db.ListChats(200, 0); err == nil {
				chats.Load(rows)
			} else {
				logger.Warn("load chat list", zap.Error(err))
			}

			adapter.RegisterEventHandler(br.Handle)

			go gw.Run(runCtx)
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gateway server error", zap.Error(err))
				}
			}()

			sched.Start()

			if adapter.IsLoggedIn() {
				_ = machine.Transition(status.Connecting)
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no credentials found, pairing required")
				_ = machine.Transition(status.AuthRequired)
				qrChan, err := adapter.GetQRChannel(runCtx)
				if err != nil {
					logger.Error("open QR channel", zap.Error(err))
					return err
				}
				go br.RunPairing(runCtx, qrChan)
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("connect for pairing failed", zap.Error(err))
						_ = machine.Transition(status.Error)
					}
				}()
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			stopRun()
			adapter.Disconnect()
			srv.Stop(ctx)
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
