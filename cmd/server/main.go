package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"chatserver/internal/bus"
	"chatserver/internal/cache"
	"chatserver/internal/config"
	"chatserver/internal/db"
	clog "chatserver/internal/log"
	"chatserver/internal/mw"
	"chatserver/internal/presence"
	"chatserver/internal/server"
	"chatserver/internal/service"
	"chatserver/internal/store"
	"chatserver/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接依赖并启动 HTTP 服务，收到信号后按序停服。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var profiles service.ProfileCache
	var profileCache *cache.Cache
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		profileCache, err = cache.Dial(ctx, cfg.RedisAddr, "chatserver:", cfg.ProfileCacheTTL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		profiles = profileCache
		log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.ProfileCacheTTL).Msg("profile cache enabled")
	}

	hub := ws.NewHub(presence.NewRegistry())
	var pub service.Publisher = hub
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = bus.Connect(cfg.NATSURL, "chatserver", 10)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats connect")
		}
		pub = bus.NewMirror(hub, nc, cfg.NATSSubjectPrefix)
		log.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.NATSSubjectPrefix).Msg("room events mirrored to NATS")
	}

	roomStore := store.NewRoomStore(gdb)
	users := service.NewUserService(store.NewUserStore(gdb), gdb, cfg, profiles)
	rooms := service.NewRoomService(roomStore, hub)
	messages := service.NewMessageService(store.NewMessageStore(gdb), roomStore, users)
	chat := service.NewChat(users, rooms, messages, pub)

	// 控制单个 IP+路由的速率。
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	limiter.Start()

	r := server.SetupRouter(server.Deps{Config: cfg, DB: gdb, Hub: hub, Chat: chat, Limiter: limiter, Cache: profileCache})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	// 各 operation 并发执行；数据库必须在 HTTP 停止之后关闭，所以放在同一个 operation 里。
	ops := map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			limiter.Stop()
			err := srv.Shutdown(ctx)
			hub.Close()
			if sqlDB, dbErr := gdb.DB(); dbErr == nil {
				err = errors.Join(err, sqlDB.Close())
			}
			return err
		},
	}
	if nc != nil {
		ops["nats"] = func(ctx context.Context) error { return nc.Drain() }
	}
	if profileCache != nil {
		ops["redis"] = func(ctx context.Context) error { return profileCache.Close() }
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("server stopped")
	os.Exit(exitCode)
}
