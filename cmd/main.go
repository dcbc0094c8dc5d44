package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathima-sithara/realtime-chat/internal/api"
	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/fathima-sithara/realtime-chat/internal/cache"
	"github.com/fathima-sithara/realtime-chat/internal/config"
	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/hub"
	"github.com/fathima-sithara/realtime-chat/internal/logger"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/presence"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/service"
	"github.com/fathima-sithara/realtime-chat/internal/ws"
	"github.com/redis/go-redis/v9"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(cfg.App.IsDevelopment(), cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx := context.Background()

	var store repository.Store
	switch cfg.Store.Driver {
	case config.DriverMemory:
		lg.Warn("using in-memory store, data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		client, err := repository.Connect(ctx, cfg.Mongo.URI, cfg.ConnectRetry, lg)
		if err != nil {
			lg.Fatalw("mongo connect", "err", err)
		}
		store, err = repository.NewMongoStore(ctx, client, cfg.Mongo.Database)
		if err != nil {
			lg.Fatalw("mongo init", "err", err)
		}
	}

	jv, err := auth.NewValidator(cfg.JWT.Alg, cfg.JWT.HSSecret, cfg.JWT.PublicKeyPath)
	if err != nil {
		lg.Fatalw("jwt validator init", "err", err)
	}

	var sink events.Sink = events.Noop{}
	if cfg.Kafka.Enabled {
		sink = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		lg.Infow("kafka events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	emitter := events.NewDispatcher(sink, lg, 1024)
	go emitter.Run()

	m := metrics.New()
	h := hub.New(m, lg)

	regOpts := []presence.Option{presence.WithEmitter(emitter), presence.WithMetrics(m)}
	var userOpts []service.UserOption
	var rdb *redis.Client
	var limiter *cache.RateLimiter
	if cfg.Redis.Enabled {
		rdb, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Fatalw("redis connect", "err", err)
		}
		mirror := cache.NewPresenceMirror(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		regOpts = append(regOpts, presence.WithMirror(mirror))
		userOpts = append(userOpts, service.WithPresenceFallback(mirror))
		if cfg.RateLimit.Enabled {
			limiter = cache.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Requests, cfg.RateWindow, lg)
		}
	} else if cfg.RateLimit.Enabled {
		lg.Warn("rate_limit.enabled needs redis; requests are not limited")
	}
	registry := presence.NewRegistry(store, h, lg, regOpts...)

	stamp := service.NewStamper(nil)
	convs := service.NewConversationService(store, h, emitter, stamp, lg)
	msgs := service.NewMessageService(store, h, registry, emitter, stamp, lg)

	router := ws.NewRouter(h, registry, convs, msgs, cfg.WS.VerifyMembership, m, lg)
	wsSrv := ws.NewServer(h, registry, router, jv, cfg, m, lg)

	app := api.NewServer(api.Services{
		Users:         service.NewUserService(store, registry, userOpts...),
		Conversations: convs,
		Messages:      msgs,
		History:       service.NewHistoryService(store),
	}, api.Options{
		Validator:      jv,
		Limiter:        limiter,
		Metrics:        m.Handler(),
		WS:             wsSrv,
		RequestTimeout: cfg.RequestTimeout,
		AccessLog:      true,
		CORSOrigins:    cfg.App.CORSOrigins,
		Connections:    h,
	}, lg)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		lg.Infow("starting chat server", "addr", addr, "store", cfg.Store.Driver)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Errorw("server error", "err", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Errorw("fiber shutdown", "err", err)
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		lg.Errorw("events shutdown", "err", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := store.Close(shutdownCtx); err != nil {
		lg.Errorw("store close", "err", err)
	}
	lg.Info("shut down")
}
