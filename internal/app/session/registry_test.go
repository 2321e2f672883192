package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
	"github.com/rs/zerolog"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:1" }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestRegistry(opts Options) *Registry {
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = 10
	}
	return NewRegistry(zerolog.Nop(), opts)
}

func login(t *testing.T, r *Registry, id, name string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	if _, err := r.Accept(c); err != nil {
		t.Fatalf("accept %s: %v", id, err)
	}
	if err := r.BeginAuth(id); err != nil {
		t.Fatalf("begin auth %s: %v", id, err)
	}
	if err := r.Bind(id, name); err != nil {
		t.Fatalf("bind %s: %v", id, err)
	}
	return c
}

func TestStateTransitions(t *testing.T) {
	r := newTestRegistry(Options{})
	c := &fakeConn{id: "c1"}
	s, err := r.Accept(c)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	testutil.AssertEqual(t, "initial", s.State(), StateConnected)

	if err := r.BeginAuth("c1"); err != nil {
		t.Fatalf("begin auth: %v", err)
	}
	testutil.AssertEqual(t, "pending", s.State(), StateAuthPending)

	r.AbortAuth("c1")
	testutil.AssertEqual(t, "aborted", s.State(), StateConnected)

	_ = r.BeginAuth("c1")
	if err := r.Bind("c1", "Ash"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	testutil.AssertEqual(t, "bound", s.State(), StateAuthenticated)
	if err := r.BeginAuth("c1"); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}

	name, ok := r.Remove("c1")
	testutil.AssertEqual(t, "removed name", name, "Ash")
	testutil.AssertEqual(t, "was bound", ok, true)
	testutil.AssertEqual(t, "final", s.State(), StateDisconnected)
	if err := r.BeginAuth("c1"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestAcceptRejectsAtCapacity(t *testing.T) {
	r := newTestRegistry(Options{MaxPlayers: 1})
	login(t, r, "c1", "ash")
	if _, err := r.Accept(&fakeConn{id: "c2"}); !errors.Is(err, ErrServerFull) {
		t.Fatalf("expected ErrServerFull, got %v", err)
	}
	r.Remove("c1")
	if _, err := r.Accept(&fakeConn{id: "c3"}); err != nil {
		t.Fatalf("accept after leave: %v", err)
	}
}

func TestUsernameBoundToOneConnection(t *testing.T) {
	r := newTestRegistry(Options{})
	login(t, r, "c1", "Ash")
	_, _ = r.Accept(&fakeConn{id: "c2"})
	_ = r.BeginAuth("c2")
	if err := r.Bind("c2", "ash"); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}

	if _, ok := r.Unbind("c1"); !ok {
		t.Fatal("expected c1 to unbind")
	}
	if err := r.Bind("c2", "ash"); err != nil {
		t.Fatalf("bind after unbind: %v", err)
	}
	s, ok := r.Active("ASH")
	if !ok || s.ID() != "c2" {
		t.Fatalf("expected c2 to own ash, got %v %v", s, ok)
	}

	// the stale connection going away must not unbind the new owner
	r.Remove("c1")
	if _, ok := r.Active("ash"); !ok {
		t.Fatal("stale remove unbound the new session")
	}
}

func TestAuthTimeoutClosesConnection(t *testing.T) {
	r := newTestRegistry(Options{AuthTimeout: 20 * time.Millisecond})
	idle := &fakeConn{id: "idle"}
	if _, err := r.Accept(idle); err != nil {
		t.Fatalf("accept: %v", err)
	}
	authed := login(t, r, "authed", "ash")

	deadline := time.Now().Add(time.Second)
	for !idle.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	testutil.AssertEqual(t, "idle closed", idle.isClosed(), true)
	testutil.AssertEqual(t, "authed closed", authed.isClosed(), false)
	testutil.AssertEqual(t, "connections", r.ConnectionCount(), 1)
}

func TestCooldownAndRapidRejoin(t *testing.T) {
	r := newTestRegistry(Options{ReconnectCooldown: time.Minute, JoinSuppressWindow: 5 * time.Second})
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	if err := r.CheckCooldown("ash"); err != nil {
		t.Fatalf("fresh user in cooldown: %v", err)
	}
	login(t, r, "c1", "ash")
	r.Remove("c1")

	if err := r.CheckCooldown("Ash"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	testutil.AssertEqual(t, "rapid", r.RapidRejoin("ash"), true)

	now = now.Add(10 * time.Second)
	testutil.AssertEqual(t, "rapid later", r.RapidRejoin("ash"), false)
	testutil.AssertEqual(t, "cleanup early", r.CleanupDisconnects(), 0)

	now = now.Add(time.Minute)
	if err := r.CheckCooldown("ash"); err != nil {
		t.Fatalf("cooldown should have passed: %v", err)
	}
	testutil.AssertEqual(t, "cleanup", r.CleanupDisconnects(), 1)
}

func TestBroadcastSkipsUnauthenticatedAndExcluded(t *testing.T) {
	r := newTestRegistry(Options{})
	a := login(t, r, "a", "ash")
	b := login(t, r, "b", "brock")
	pending := &fakeConn{id: "p"}
	_, _ = r.Accept(pending)

	r.Broadcast([]byte("hi"), "a")
	testutil.AssertEqual(t, "a", a.count(), 0)
	testutil.AssertEqual(t, "b", b.count(), 1)
	testutil.AssertEqual(t, "pending", pending.count(), 0)

	r.BroadcastAll([]byte("bye"))
	testutil.AssertEqual(t, "pending all", pending.count(), 1)
	testutil.AssertEqual(t, "usernames", strings.Join(r.Usernames(), ","), "ash,brock")
}

func TestLockUserSerializesLogins(t *testing.T) {
	r := newTestRegistry(Options{})
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.LockUser("Ash")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	testutil.AssertEqual(t, "max concurrent", maxInside, 1)
}
