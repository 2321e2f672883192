package announcer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
	"github.com/rs/zerolog"

	"pokemeetup-server/internal/app/plugin"
)

type chatServer struct {
	mu     sync.Mutex
	online []string
	chats  []string
}

func (s *chatServer) BroadcastChat(content string) {
	s.mu.Lock()
	s.chats = append(s.chats, content)
	s.mu.Unlock()
}

func (s *chatServer) OnlinePlayers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.online)
}

func (s *chatServer) WorldSeed() int64 { return 1 }

func (s *chatServer) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chats)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newHost(t *testing.T, dir string, srv plugin.Server) *plugin.Host {
	t.Helper()
	reg := plugin.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	writeJSON(t, filepath.Join(dir, ID, "plugin.json"), plugin.Manifest{ID: ID, Name: "Announcer", Version: "1.0.0"})
	return plugin.NewHost(zerolog.Nop(), dir, reg, srv)
}

func TestAnnouncesFromManifestDir(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, ID+".config.json"), map[string]any{
		"messages": []string{"first", "second"},
		"interval": "10ms",
	})
	srv := &chatServer{online: []string{"ash"}}
	host := newHost(t, dir, srv)

	if err := host.LoadAll(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := host.EnableAll(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	testutil.AssertEqual(t, "enabled", len(host.Enabled()), 1)

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.sent()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected two announcements, got %v", srv.sent())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := host.DisableAll(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got := srv.sent()
	testutil.AssertEqual(t, "first", got[0], "first")
	testutil.AssertEqual(t, "second", got[1], "second")

	time.Sleep(30 * time.Millisecond)
	testutil.AssertEqual(t, "after disable", len(srv.sent()), len(got))
}

func TestSilentWithNobodyOnline(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, ID+".config.json"), map[string]any{"interval": "5ms"})
	srv := &chatServer{}
	host := newHost(t, dir, srv)
	if err := host.LoadAll(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := host.EnableAll(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if err := host.DisableAll(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	testutil.AssertEqual(t, "chats", len(srv.sent()), 0)
}

func TestDefaultsWrittenOnDisable(t *testing.T) {
	dir := t.TempDir()
	host := newHost(t, dir, &chatServer{})
	if err := host.LoadAll(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := host.EnableAll(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := host.DisableAll(); err != nil {
		t.Fatalf("disable: %v", err)
	}

	cfg, err := plugin.LoadConfig(filepath.Join(dir, ID+".config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	var interval string
	if found, err := cfg.Get("interval", &interval); !found || err != nil {
		t.Fatalf("interval not saved: %v %v", found, err)
	}
	testutil.AssertEqual(t, "interval", interval, defaultInterval.String())
}

func TestBadIntervalFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, ID+".config.json"), map[string]any{"interval": "soon"})
	host := newHost(t, dir, &chatServer{})
	if err := host.LoadAll(); err == nil {
		t.Fatal("expected load error")
	}
	if host.Failure(ID) == nil {
		t.Fatal("expected announcer failure to be recorded")
	}
}
