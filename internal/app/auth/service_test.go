package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/platform/db"
	"pokemeetup-server/internal/platform/migrate"
)

var dbSeq atomic.Int64

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:auth_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	conn, err := db.OpenSQLite(ctx, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Up(ctx, migrate.SQLite(conn), migrate.Files()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLiteService(conn, "secret", time.Hour)
}

func TestPasswordHashAndVerify(t *testing.T) {
	h, err := hashPassword("supersecurepass")
	if err != nil {
		t.Fatalf("hashPassword err: %v", err)
	}
	ok, err := verifyPassword(h, "supersecurepass")
	if err != nil {
		t.Fatalf("verifyPassword err: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification success")
	}
	ok, err = verifyPassword(h, "wrong-pass")
	if err != nil {
		t.Fatalf("verifyPassword wrong err: %v", err)
	}
	if ok {
		t.Fatal("expected password verification failure")
	}
}

func TestTokenIssueAndParse(t *testing.T) {
	s := &Service{jwtSecret: []byte("secret"), jwtTTL: time.Hour}
	tok, err := s.IssueToken("Ash_Ketchum")
	if err != nil {
		t.Fatalf("IssueToken err: %v", err)
	}
	name, err := s.ParseToken(tok)
	if err != nil {
		t.Fatalf("ParseToken err: %v", err)
	}
	if name != "Ash_Ketchum" {
		t.Fatalf("parsed username mismatch: got %q", name)
	}

	other := &Service{jwtSecret: []byte("other"), jwtTTL: time.Hour}
	if _, err := other.ParseToken(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for foreign secret, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"empty username", "", "pw", ErrMissingFields},
		{"empty password", "misty", "", ErrMissingFields},
		{"too short", "ab", "pw", ErrInvalidUsername},
		{"too long", "abcdefghijklmnopqrstu", "pw", ErrInvalidUsername},
		{"bad chars", "brock!", "pw", ErrInvalidUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Register(ctx, tt.username, tt.password); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterAndVerify(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if err := s.Register(ctx, "Alice", "correct"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if err := s.Register(ctx, "alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	exists, err := s.CheckExists(ctx, "ALICE")
	if err != nil || !exists {
		t.Fatalf("CheckExists = %v, %v", exists, err)
	}

	stored, err := s.VerifyPassword(ctx, "alice", "correct")
	if err != nil {
		t.Fatalf("VerifyPassword err: %v", err)
	}
	if stored != "Alice" {
		t.Fatalf("expected stored casing Alice, got %q", stored)
	}
	if _, err := s.VerifyPassword(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.VerifyPassword(ctx, "nobody", "correct"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if err := s.Register(ctx, "red", "pikachu"); err != nil {
		t.Fatalf("Register err: %v", err)
	}
	res, err := s.Login(ctx, "RED", "pikachu")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if res.UserID != player.IDFor("red") {
		t.Fatalf("user id mismatch")
	}
	name, err := s.ParseToken(res.Token)
	if err != nil || name != "red" {
		t.Fatalf("ParseToken = %q, %v", name, err)
	}
}
