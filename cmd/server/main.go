package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pokemeetup-server/internal/api"
	authapp "pokemeetup-server/internal/app/auth"
	"pokemeetup-server/internal/app/biome"
	"pokemeetup-server/internal/app/chunk"
	"pokemeetup-server/internal/app/plugin"
	"pokemeetup-server/internal/app/session"
	"pokemeetup-server/internal/app/storage"
	worldapp "pokemeetup-server/internal/app/world"
	"pokemeetup-server/internal/platform/cache"
	"pokemeetup-server/internal/platform/config"
	"pokemeetup-server/internal/platform/db"
	"pokemeetup-server/internal/platform/migrate"
	"pokemeetup-server/internal/platform/mq"
	"pokemeetup-server/internal/platform/observability"
	"pokemeetup-server/internal/platform/scheduler"
	"pokemeetup-server/internal/plugins/announcer"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)
	observability.ConfigureLockChecks(logger, cfg.LockChecks, cfg.LockCheckTimeout)

	authSvc, closeDB := openAuth(ctx, logger, cfg)
	defer closeDB()

	var redisClient *redis.Client
	redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable; continuing without cache")
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher, err := mq.NewPublisher(cfg.NATSURL, cfg.ServerName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; using noop publisher")
		publisher = mq.NewNoopPublisher()
	}
	defer publisher.Close()

	repo := storage.New(logger, cfg.DataDir, cfg.WorldName, redisClient, cfg.PlayerCacheTTL, publisher)
	if err := repo.Init(); err != nil {
		logger.Fatal().Err(err).Msg("world directory unavailable")
	}
	snap, created, err := repo.LoadOrCreateWorld(ctx, cfg.WorldSeed, cfg.DayLengthMinutes)
	if err != nil {
		logger.Fatal().Err(err).Msg("load world failed")
	}
	defs, err := repo.LoadBiomes(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load biome definitions failed")
	}
	logger.Info().Str("world", snap.Name).Int64("seed", snap.Seed).Bool("created", created).Msg("world ready")

	sessions := session.NewRegistry(logger, session.Options{
		MaxPlayers:         cfg.MaxPlayers,
		AuthTimeout:        cfg.AuthTimeout,
		ReconnectCooldown:  cfg.ReconnectCooldown,
		JoinSuppressWindow: cfg.JoinSuppressWindow,
	})
	worldSvc := worldapp.NewService(logger, worldapp.OptionsFromConfig(cfg, loadIcon(logger, cfg.ServerIconFile)), snap, worldapp.Deps{
		Sessions:    sessions,
		Chunks:      chunk.New(logger, biome.New(snap.Seed), defs, repo),
		Repo:        repo,
		Credentials: authSvc,
		Publisher:   publisher,
		Scheduler:   scheduler.New(logger, cfg.WorkerPoolSize),
	})
	worldSvc.Start()

	registry := plugin.NewRegistry()
	if err := announcer.Register(registry); err != nil {
		logger.Fatal().Err(err).Msg("register built-in plugins failed")
	}
	plugins := plugin.NewHost(logger, cfg.PluginDir, registry, worldSvc.PluginServer())
	if err := plugins.LoadAll(); err != nil {
		logger.Error().Err(err).Msg("some plugins failed to load")
	}
	if err := plugins.EnableAll(); err != nil {
		logger.Error().Err(err).Msg("some plugins failed to enable")
	}

	handler := api.NewHandler(logger, authSvc, worldSvc, cfg.CorsOrigin, cfg.MaxRequestBody, cfg.WSReadLimit)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	worldSvc.Drain(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := worldSvc.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("world shutdown incomplete")
	}
	if err := plugins.DisableAll(); err != nil {
		logger.Error().Err(err).Msg("plugin shutdown incomplete")
	}
	logger.Info().Msg("server stopped")
}

// openAuth connects the configured credential database and applies
// migrations. The returned func closes the database.
func openAuth(ctx context.Context, logger zerolog.Logger, cfg config.Config) (*authapp.Service, func()) {
	switch cfg.AuthDriver {
	case config.AuthDriverPostgres:
		pg, err := db.ConnectPostgres(ctx, logger, db.PostgresOptions{
			URL:            cfg.PostgresURL,
			MaxConns:       cfg.PostgresMaxConns,
			MinConns:       cfg.PostgresMinConns,
			ConnectTimeout: 5 * time.Second,
			QueryLogLevel:  cfg.PostgresQueryLog,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		if err := migrate.Up(ctx, migrate.Postgres(pg), migrate.Files()); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		return authapp.NewPostgresService(pg, cfg.JWTSecret, cfg.JWTTTL), pg.Close
	default:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		if err := migrate.Up(ctx, migrate.SQLite(conn), migrate.Files()); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		return authapp.NewSQLiteService(conn, cfg.JWTSecret, cfg.JWTTTL), func() { _ = conn.Close() }
	}
}

func loadIcon(logger zerolog.Logger, path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("server icon unreadable; serving without one")
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
