package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type PostgresOptions struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
	// QueryLogLevel is the pgx trace level forwarded to the logger, e.g.
	// "warn" or "debug". Empty disables query tracing.
	QueryLogLevel string
}

// ConnectPostgres opens the credential database pool and waits for the
// first ping.
func ConnectPostgres(ctx context.Context, logger zerolog.Logger, opts PostgresOptions) (*pgxpool.Pool, error) {
	logger = logger.With().Str("component", "postgres").Logger()
	cfg, err := postgresConfig(logger, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, cfg.ConnConfig.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info().
		Str("host", cfg.ConnConfig.Host).
		Str("database", cfg.ConnConfig.Database).
		Int32("max_conns", cfg.MaxConns).
		Msg("postgres connected")
	return pool, nil
}

func postgresConfig(logger zerolog.Logger, opts PostgresOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnLifetime = 45 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout

	if opts.QueryLogLevel != "" {
		lvl, err := tracelog.LogLevelFromString(opts.QueryLogLevel)
		if err != nil {
			return nil, fmt.Errorf("postgres query log level: %w", err)
		}
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{Logger: queryLogger(logger), LogLevel: lvl}
	}
	return cfg, nil
}

// queryLogger forwards pgx trace events to zerolog.
func queryLogger(logger zerolog.Logger) tracelog.Logger {
	return tracelog.LoggerFunc(func(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		var ev *zerolog.Event
		switch level {
		case tracelog.LogLevelTrace:
			ev = logger.Trace()
		case tracelog.LogLevelDebug:
			ev = logger.Debug()
		case tracelog.LogLevelInfo:
			ev = logger.Info()
		case tracelog.LogLevelWarn:
			ev = logger.Warn()
		default:
			ev = logger.Error()
		}
		ev.Fields(data).Msg(msg)
	})
}
