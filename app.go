package main

import (
	"context"
	"fmt"

	"github.com/kasuganosora/eventvm/audit"
	"github.com/kasuganosora/eventvm/cache"
	"github.com/kasuganosora/eventvm/config"
	dbadapter "github.com/kasuganosora/eventvm/db"
	"github.com/kasuganosora/eventvm/game/eventbus"
	"github.com/kasuganosora/eventvm/game/host"
	"github.com/kasuganosora/eventvm/game/interpreter"
	"github.com/kasuganosora/eventvm/game/script"
	"github.com/kasuganosora/eventvm/game/world"
	"github.com/kasuganosora/eventvm/model"
	"github.com/kasuganosora/eventvm/plugin/hook"
	"github.com/kasuganosora/eventvm/resource"
	"github.com/kasuganosora/eventvm/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is the assembled server: storage, state, bus and the event host.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *gorm.DB
	journal *audit.Service
	cache   cache.Cache
	pubsub  cache.PubSub
	store   *resource.Store
	state   *world.GameState
	hooks   *hook.HookCenter
	bus     *eventbus.Bus
	sched   *scheduler.Scheduler
	host    *host.Host
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	a.db = db
	a.store = resource.NewStore(db)
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Journal ----
	if cfg.Interpreter.Journal {
		a.journal = audit.New(db, logger)
	}

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	if a.cache, err = cache.NewCache(cacheConfig); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.pubsub, err = cache.NewPubSub(cacheConfig); err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized")

	// ---- Event definitions ----
	events, err := loadEventSet(ctx, cfg.Interpreter.EventsDir, a.store, logger)
	if err != nil {
		return nil, err
	}

	// ---- Game state ----
	a.state = world.NewGameState(db, cfg.Database.FlushInterval, logger)
	if err := a.state.LoadFromDB(ctx); err != nil {
		logger.Warn("failed to load game state from DB", zap.Error(err))
	}

	// ---- Bus / hooks ----
	a.hooks = hook.NewHookCenter()
	a.hooks.OnPanic = func(event, name string, recovered interface{}) {
		logger.Error("hook panicked",
			zap.String("hook", event), zap.String("name", name), zap.Any("recovered", recovered))
	}
	a.bus = eventbus.New(eventbus.Options{Hooks: a.hooks, PubSub: a.pubsub, Cache: a.cache}, logger)

	// ---- Scripts ----
	scripts, sandbox, hooks, err := loadScripts(cfg.Script, logger)
	if err != nil {
		return nil, err
	}

	// ---- Host ----
	a.host = host.New(a.state, events, host.Options{
		MapID:         cfg.Interpreter.MapID,
		CommandBudget: cfg.Interpreter.CommandBudget,
		Bus:           a.bus,
		Scripts:       scripts,
		Journal:       a.journal,
		Hooks:         a.hooks,
	}, logger)
	sandbox.Register(scripts, hooks, a.host.View())

	a.sched = scheduler.New(logger)
	a.host.Attach(a.sched, cfg.Interpreter.FrameInterval())
	return a, nil
}

// close stops the frame loop first so nothing emits into a stopped bus.
func (a *app) close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.state != nil {
		a.state.Stop()
	}
	if a.journal != nil {
		a.journal.Stop(context.Background())
	}
}

// loadEventSet reads the definition directory and overlays stored events.
// An empty dir or a missing store is skipped.
func loadEventSet(ctx context.Context, dir string, store *resource.Store, logger *zap.Logger) (*resource.EventSet, error) {
	events := resource.NewEventSet()
	if dir != "" {
		loaded, err := resource.NewLoader(dir).Load()
		if err != nil {
			logger.Warn("event definitions not loaded", zap.String("dir", dir), zap.Error(err))
		} else {
			events = loaded
		}
	}
	if store != nil {
		n, err := store.LoadInto(ctx, events)
		if err != nil {
			return nil, fmt.Errorf("stored events: %w", err)
		}
		if n > 0 {
			logger.Info("stored events loaded", zap.Int("count", n))
		}
	}
	logger.Info("events loaded", zap.Int("count", events.Len()))
	return events, nil
}

// loadScripts compiles the hook directory into a fresh script table.
func loadScripts(cfg config.ScriptConfig, logger *zap.Logger) (*interpreter.ScriptTable, *script.Sandbox, []*script.Hook, error) {
	table := interpreter.NewScriptTable()
	sandbox := script.NewSandbox(cfg.VMPoolSize, cfg.Timeout, logger)
	if cfg.Dir == "" {
		return table, sandbox, nil, nil
	}
	hooks, err := script.LoadDir(cfg.Dir)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("script hooks loaded", zap.Int("count", len(hooks)))
	return table, sandbox, hooks, nil
}
