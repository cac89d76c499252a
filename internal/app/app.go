package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/data/db"
	server "github.com/yungbote/coursebuilder/internal/http"
	"github.com/yungbote/coursebuilder/internal/observability"
	"github.com/yungbote/coursebuilder/internal/platform/envutil"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
	"github.com/yungbote/coursebuilder/internal/realtime"
	"github.com/yungbote/coursebuilder/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics
	Hub      *realtime.Hub

	store        *db.PostgresService
	rdb          goredis.UniversalClient
	events       bus.Bus
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	// The config picks the final log mode, so boot with LOG_MODE and swap.
	bootLog, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	bootLog.Info("Loading configuration...")
	cfg, err := LoadConfig(bootLog)
	if err != nil {
		bootLog.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := bootLog
	if cfg.LogMode != "" {
		if l, err := logger.New(cfg.LogMode); err == nil {
			bootLog.Sync()
			log = l
		}
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := db.NewPostgresService(log, db.Config{
		Driver:        cfg.DB.Driver,
		DSN:           cfg.DB.DSN,
		Host:          cfg.DB.Host,
		Port:          cfg.DB.Port,
		User:          cfg.DB.User,
		Password:      cfg.DB.Password,
		Name:          cfg.DB.Name,
		SQLitePath:    cfg.DB.SQLitePath,
		SlowThreshold: cfg.DB.SlowThreshold,
		MaxOpenConns:  cfg.DB.MaxOpenConns,
		LockTimeout:   cfg.DB.LockTimeout,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init store: %w", err)
	}
	theDB := store.DB()
	if err := db.AutoMigrateAll(theDB); err != nil {
		_ = store.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	metrics := observability.Init(log, observability.MetricsConfig{Enabled: cfg.MetricsEnabled})
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.Otel.Endpoint,
		Headers:     observability.ParseHeaders(cfg.Otel.Headers),
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Metrics:      metrics,
		store:        store,
		events:       bus.NewLocalBus(),
		otelShutdown: otelShutdown,
	}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("redis ping %s: %w", addr, err)
		}
		a.rdb = rdb
		events, err := bus.NewRedisBus(log, addr, cfg.Redis.Channel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init bus: %w", err)
		}
		a.events = events
	} else {
		log.Warn("REDIS_ADDR not set; gate cache disabled and events stay in-process")
	}

	sqlDB, err := theDB.DB()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("db handle: %w", err)
	}

	a.Hub = realtime.NewHub(log)
	a.Repos = wireRepos(theDB, log, cfg)
	a.Services = wireServices(theDB, log, cfg, a.Repos, metrics, a.rdb, a.events)
	handlerset := wireHandlers(log, a.Services, a.Hub, sqlDB)
	middleware := wireMiddleware(log, a.Services)
	a.Router = wireRouter(log, cfg, metrics, handlerset, middleware)
	return a, nil
}

// Run serves HTTP and the background collectors until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	a.Metrics.StartPostgresCollector(gctx, a.Log, a.DB)
	a.Metrics.StartRedisCollector(gctx, a.Log, a.Cfg.Redis.Addr)
	a.Metrics.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)

	// Every replica subscribes, so stream clients see writes made anywhere.
	if err := a.events.StartForwarder(gctx, func(ev bus.CollectionChanged) {
		a.Log.Debug("collection changed", "relation", ev.Relation, "parent_id", ev.ParentID, "op", ev.Op)
		a.Hub.Forward(ev)
	}); err != nil {
		return fmt.Errorf("start event forwarder: %w", err)
	}
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		srv := &server.Server{Engine: a.Router}
		return srv.Run(gctx, a.Cfg.HTTPAddr)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Log.Warn("db close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
