package db

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

const testURL = "postgres://u:p@db.example:5432/pokemeetup?sslmode=disable"

func TestPostgresConfigAppliesOptions(t *testing.T) {
	cfg, err := postgresConfig(zerolog.Nop(), PostgresOptions{
		URL:            testURL,
		MaxConns:       4,
		MinConns:       2,
		ConnectTimeout: 3 * time.Second,
		QueryLogLevel:  "warn",
	})
	if err != nil {
		t.Fatalf("postgresConfig: %v", err)
	}
	if cfg.MaxConns != 4 || cfg.MinConns != 2 {
		t.Fatalf("pool sizes not applied: max=%d min=%d", cfg.MaxConns, cfg.MinConns)
	}
	if cfg.ConnConfig.ConnectTimeout != 3*time.Second || cfg.ConnConfig.Database != "pokemeetup" {
		t.Fatalf("unexpected conn config: %+v", cfg.ConnConfig)
	}
	if _, ok := cfg.ConnConfig.Tracer.(*tracelog.TraceLog); !ok {
		t.Fatalf("expected a trace logger, got %T", cfg.ConnConfig.Tracer)
	}
}

func TestPostgresConfigRejectsBadInput(t *testing.T) {
	if _, err := postgresConfig(zerolog.Nop(), PostgresOptions{URL: "postgres://u:p@host:5432/db%zz"}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := postgresConfig(zerolog.Nop(), PostgresOptions{URL: testURL, QueryLogLevel: "loud"}); err == nil {
		t.Fatal("expected bad log level error")
	}
}

func TestQueryLoggerMapsLevels(t *testing.T) {
	var buf bytes.Buffer
	log := queryLogger(zerolog.New(&buf))
	log.Log(context.Background(), tracelog.LogLevelWarn, "Query", map[string]any{"sql": "select 1"})
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"sql":"select 1"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}
