// Package daemon composes the campus client core into one fx application
// serving the front-end API on a Unix socket.
package daemon

import (
	"context"

	"github.com/matheus3301/campus/internal/api"
	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/backend/rest"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/cache"
	"github.com/matheus3301/campus/internal/config"
	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/matheus3301/campus/internal/lock"
	"github.com/matheus3301/campus/internal/logging"
	"github.com/matheus3301/campus/internal/netstate"
	"github.com/matheus3301/campus/internal/notify"
	"github.com/matheus3301/campus/internal/offline"
	"github.com/matheus3301/campus/internal/outbox"
	"github.com/matheus3301/campus/internal/realtime"
	"github.com/matheus3301/campus/internal/session"
	"github.com/matheus3301/campus/internal/status"
	"github.com/matheus3301/campus/internal/store"
	intsync "github.com/matheus3301/campus/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// historyLimit caps the messages fetched when a conversation opens.
const historyLimit = 200

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default

	// Config and Logger are optional; nil means load from the profile.
	Config *config.Config
	Logger *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
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
			provideCache,
			provideNamespaces,
			provideMonitor,
			provideCRUD,
			provideRealtime,
			provideOutbox,
			provideApplier,
			provideCheckpoints,
			provideOrchestrator,
			provideNotifier,
			provideConversations,
			provideFeed,
			provideOffline,
			provideOfflineAPI,
			provideConversationAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(session.EnvPath(p.Profile)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger.With(zap.String("profile", p.Profile)), nil
	}
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile), p.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
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

func provideCache(db *store.DB, logger *zap.Logger) (*cache.Cache, *cache.Loader) {
	c := cache.New(db, logger.Named("cache"))
	return c, cache.NewLoader(c)
}

func provideNamespaces(cfg *config.Config) cache.Namespaces {
	return cache.NamespacesFrom(cfg.Cache)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *netstate.Monitor {
	return netstate.New(false, cfg.Connectivity.Settle.Duration, b, logger.Named("netstate"))
}

func provideCRUD(cfg *config.Config) backend.CRUD {
	return rest.New(cfg.Backend.URL, cfg.Backend.Token)
}

func provideRealtime(cfg *config.Config, logger *zap.Logger) *realtime.Client {
	return realtime.New(realtime.Config{URL: cfg.Backend.URL, Token: cfg.Backend.Token}, logger.Named("realtime"))
}

func provideOutbox(db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Outbox {
	return outbox.New(db, b, logger.Named("outbox"))
}

func provideApplier(crud backend.CRUD, b *bus.Bus, logger *zap.Logger) *outbox.Applier {
	return outbox.NewApplier(crud, b, logger.Named("applier"))
}

func provideCheckpoints(db *store.DB, logger *zap.Logger) *intsync.Checkpoints {
	return intsync.NewCheckpoints(db, logger)
}

func provideOrchestrator(box *outbox.Outbox, mon *netstate.Monitor, cp *intsync.Checkpoints, applier *outbox.Applier, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Orchestrator {
	return intsync.New(box, mon, cp, intsync.Options{
		Apply:   applier.Apply,
		Machine: machine,
		Bus:     b,
		Logger:  logger.Named("sync"),
	})
}

func provideNotifier(cfg *config.Config, b *bus.Bus, logger *zap.Logger) notify.Notifier {
	return notify.Select(notify.HostCapability(cfg.Notifications.Enabled), b, logger.Named("notify"))
}

func provideConversations(cfg *config.Config, crud backend.CRUD, rt *realtime.Client, c *cache.Cache, ns cache.Namespaces, b *bus.Bus, logger *zap.Logger) *conversation.Manager {
	l := logger.Named("conversation")
	messages := conversation.NewCachedStore(conversation.NewBackendStore(crud, historyLimit), c, ns.Messages, l)
	return conversation.NewManager(messages, rt, conversation.Options{
		UserID:       cfg.Backend.UserID,
		TypingIdle:   cfg.Typing.Idle.Duration,
		TypingExpiry: cfg.Typing.Expiry.Duration,
		Bus:          b,
		Logger:       l,
	})
}

func provideFeed(cfg *config.Config, loader *cache.Loader, crud backend.CRUD, ns cache.Namespaces, logger *zap.Logger) *feed.Feed {
	return feed.New(loader, crud, ns, cfg.Backend.UserID, logger.Named("feed"))
}

func provideOffline(box *outbox.Outbox, orch *intsync.Orchestrator, cp *intsync.Checkpoints, mon *netstate.Monitor, applier *outbox.Applier, c *cache.Cache, convs *conversation.Manager, machine *status.Machine, n notify.Notifier, b *bus.Bus, logger *zap.Logger) *offline.Service {
	return offline.New(offline.Deps{
		Outbox:        box,
		Orchestrator:  orch,
		Checkpoints:   cp,
		Monitor:       mon,
		Apply:         applier.Apply,
		Cache:         c,
		Conversations: convs,
		Machine:       machine,
		Notifier:      n,
		Bus:           b,
		Logger:        logger.Named("offline"),
	})
}

func provideOfflineAPI(p Params, svc *offline.Service, f *feed.Feed, b *bus.Bus, logger *zap.Logger) *api.OfflineService {
	return api.NewOfflineService(p.Profile, svc, f, b, logger)
}

func provideConversationAPI(convs *conversation.Manager, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(convs, logger)
}

type lifecycleDeps struct {
	fx.In

	Config   *config.Config
	Server   *Server
	Lock     *lock.Lock
	DB       *store.DB
	Realtime *realtime.Client
	Monitor  *netstate.Monitor
	Orch     *intsync.Orchestrator
	Offline  *offline.Service
	Feed     *feed.Feed
	Convs    *conversation.Manager
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	// Background work outlives the OnStart context, which fx cancels once
	// startup completes.
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Offline.Start(runCtx)
			d.Orch.Start(runCtx)
			d.Feed.Start(runCtx, d.Bus)

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if d.Config.Backend.URL == "" || d.Config.Backend.UserID == "" {
				d.Logger.Info("no backend account configured, signed out")
				return d.Machine.Transition(status.SignedOut)
			}
			if err := d.Machine.Transition(status.Offline); err != nil {
				return err
			}
			// The realtime link is the reachability source.
			d.Realtime.OnState(d.Monitor.Report)
			d.Realtime.Start(runCtx)
			d.Logger.Info("daemon started", zap.String("backend", d.Config.Backend.URL), zap.String("user_id", d.Config.Backend.UserID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Realtime.Stop()
			d.Convs.CloseAll()
			d.Orch.Stop()
			d.Offline.Stop()
			d.Feed.Stop()
			d.Monitor.Close()
			cancel()
			d.Server.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
