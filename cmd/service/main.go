package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kietn20/playlist-collaborator/internal/config"
	"github.com/kietn20/playlist-collaborator/internal/provider"
	"github.com/kietn20/playlist-collaborator/internal/realtime"
	"github.com/kietn20/playlist-collaborator/internal/room"
	"github.com/kietn20/playlist-collaborator/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("room-service: load config")
	}

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("room-service: pg connect")
	}
	defer pool.Close()
	if err := store.AutoMigrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("room-service: migrate")
	}

	// Redis
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.RedisURL).Msg("room-service: invalid REDIS_URL")
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	// Metadata resolution: YouTube behind a redis cache. Without an API key
	// every add degrades to placeholder metadata, which is fine.
	var resolver room.Resolver
	if cfg.YouTubeAPIKey != "" {
		resolver = provider.NewCachedResolver(provider.NewYouTubeClient(cfg.YouTubeAPIKey, ""), rdb)
	} else {
		log.Warn().Msg("room-service: no YOUTUBE_APIKEY, metadata enrichment disabled")
	}

	// Core engine
	bcast := realtime.NewRedisBroadcaster(ctx, rdb)
	registry := room.NewRegistry(store.NewPostgres(pool), resolver, bcast, room.RegistryConfig{
		ResolveTimeout: cfg.ResolveTimeout,
		IdleWindow:     cfg.RoomIdleWindow,
		SweepInterval:  cfg.SweepInterval,
	})
	registry.StartSweeper(ctx)
	router := room.NewRouter(registry)

	// Transport
	hub := realtime.NewHub(router)
	go hub.Run()
	srv := realtime.NewServer(hub, router, rdb, ctx, cfg.FrontendBaseURL)
	go srv.RunRedisSubscriber()

	r := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("room-service listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("room-service: http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("room-service: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("room-service: forced shutdown")
	}
}
