package world

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pokemeetup-server/internal/app/auth"
	"pokemeetup-server/internal/app/biome"
	"pokemeetup-server/internal/app/chunk"
	"pokemeetup-server/internal/app/session"
	"pokemeetup-server/internal/app/storage"
	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/protocol"
	domainworld "pokemeetup-server/internal/domain/world"
	"pokemeetup-server/internal/platform/scheduler"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:4000" }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, msg)
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

// received decodes every frame of type t sent to the connection so far.
func (c *fakeConn) received(t *testing.T, typ protocol.Type) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range c.frames {
		env, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("server sent undecodable frame %s: %v", f, err)
		}
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fakeCreds struct {
	mu       sync.Mutex
	accounts map[string][2]string
}

func newFakeCreds(names ...string) *fakeCreds {
	f := &fakeCreds{accounts: map[string][2]string{}}
	for _, n := range names {
		f.accounts[strings.ToLower(n)] = [2]string{n, "correct"}
	}
	return f
}

func (f *fakeCreds) VerifyPassword(_ context.Context, username, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[strings.ToLower(username)]
	if !ok || acct[1] != password {
		return "", auth.ErrInvalidCredentials
	}
	return acct[0], nil
}

func (f *fakeCreds) Register(_ context.Context, username, password string) error {
	if username == "" || password == "" {
		return auth.ErrMissingFields
	}
	if !auth.ValidUsername(username) {
		return auth.ErrInvalidUsername
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[strings.ToLower(username)]; ok {
		return auth.ErrUsernameTaken
	}
	f.accounts[strings.ToLower(username)] = [2]string{username, password}
	return nil
}

func (f *fakeCreds) ParseToken(token string) (string, error) {
	name, ok := strings.CutPrefix(token, "tok:")
	if !ok {
		return "", auth.ErrInvalidCredentials
	}
	return name, nil
}

func (f *fakeCreds) IssueToken(username string) (string, error) {
	return "tok:" + username, nil
}

type harness struct {
	svc    *Service
	reg    *session.Registry
	chunks *chunk.Store
	repo   *storage.Repository
	next   int
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	logger := zerolog.Nop()
	repo := storage.New(logger, t.TempDir(), "test_world", nil, 0, nil)
	if err := repo.Init(); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	snap := domainworld.NewSnapshot("test_world", 42, 10)
	store := chunk.New(logger, biome.New(snap.Seed), biome.DefaultDefinitions(), repo)

	opts := Options{
		ServerName:           "Test",
		MaxPlayers:           10,
		LeaveNoticeDelay:     20 * time.Millisecond,
		BroadcastInterval:    50 * time.Millisecond,
		ChunkEvictAfter:      time.Minute,
		MovementBatchSize:    32,
		CreatureTTL:          time.Minute,
		MaxCreaturesPerChunk: 5,
		ViolationLimit:       5,
	}
	for _, m := range mutate {
		m(&opts)
	}
	reg := session.NewRegistry(logger, session.Options{MaxPlayers: opts.MaxPlayers})
	sched := scheduler.New(logger, 1)
	t.Cleanup(func() { sched.Stop(time.Second) })

	svc := NewService(logger, opts, snap, Deps{
		Sessions:    reg,
		Chunks:      store,
		Repo:        repo,
		Credentials: newFakeCreds("alice", "bob"),
		Scheduler:   sched,
	})
	return &harness{svc: svc, reg: reg, chunks: store, repo: repo}
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	h.next++
	c := &fakeConn{id: fmt.Sprintf("conn-%d", h.next)}
	if err := h.svc.Connect(c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func (h *harness) send(t *testing.T, c *fakeConn, typ protocol.Type, payload any) {
	t.Helper()
	h.svc.Handle(context.Background(), c.id, protocol.MustEncode(typ, payload))
}

func (h *harness) login(t *testing.T, name string) *fakeConn {
	t.Helper()
	c := h.connect(t)
	h.send(t, c, protocol.TypeLoginRequest, protocol.LoginRequest{Username: name, Password: "correct"})
	resp := lastLogin(t, c)
	if !resp.Success {
		t.Fatalf("login %s failed: %s", name, resp.Message)
	}
	return c
}

func lastLogin(t *testing.T, c *fakeConn) protocol.LoginResponse {
	t.Helper()
	envs := c.received(t, protocol.TypeLoginResponse)
	if len(envs) == 0 {
		t.Fatal("no login response")
	}
	var resp protocol.LoginResponse
	if err := envs[len(envs)-1].Into(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// walkableTile finds a free passable tile in chunk (0,0).
func walkableTile(t *testing.T, h *harness) (int, int) {
	t.Helper()
	if _, err := h.chunks.GetOrGenerate(context.Background(), domainworld.ChunkCoord{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	for tx := 0; tx < domainworld.ChunkSize; tx++ {
		for ty := 0; ty < domainworld.ChunkSize; ty++ {
			if h.chunks.Walkable(tx, ty) {
				return tx, ty
			}
		}
	}
	t.Fatal("no walkable tile in origin chunk")
	return 0, 0
}

func TestConnectAcknowledges(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	envs := c.received(t, protocol.TypeConnectionResponse)
	if len(envs) != 1 {
		t.Fatalf("expected one connection response, got %d", len(envs))
	}
	var resp protocol.ConnectionResponse
	_ = envs[0].Into(&resp)
	if !resp.Success || resp.Message != "Connection established" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestConnectRejectsWhenFull(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxPlayers = 1 })
	h.login(t, "alice")

	c := &fakeConn{id: "late"}
	if err := h.svc.Connect(c); err == nil {
		t.Fatal("expected full server to reject")
	}
	var resp protocol.ConnectionResponse
	_ = c.received(t, protocol.TypeConnectionResponse)[0].Into(&resp)
	if resp.Success || resp.Message != "Server is full" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	waitFor(t, "full connection to close", c.isClosed)
}

func TestLoginFreshWorld(t *testing.T) {
	h := newHarness(t)
	c := h.login(t, "alice")
	resp := lastLogin(t, c)
	if resp.X != player.DefaultX || resp.Y != player.DefaultY {
		t.Fatalf("expected default spawn, got %v,%v", resp.X, resp.Y)
	}
	if resp.Seed != 42 || resp.DayLength != 10 || resp.WorldTimeInMinutes != 480 {
		t.Fatalf("unexpected world fields: %+v", resp)
	}
	if resp.Token != "tok:alice" || resp.PlayerData == nil || resp.PlayerData.Username != "alice" {
		t.Fatalf("missing token or player data: %+v", resp)
	}
	if len(c.received(t, protocol.TypePlayerList)) == 0 {
		t.Fatal("expected a player list after login")
	}
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  protocol.LoginRequest
		want string
	}{
		{"wrong password", protocol.LoginRequest{Username: "alice", Password: "nope"}, msgBadCredentials},
		{"unknown user", protocol.LoginRequest{Username: "gary", Password: "correct"}, msgBadCredentials},
		{"forged token", protocol.LoginRequest{Username: "alice", Token: "tok:bob"}, msgBadCredentials},
		{"empty name", protocol.LoginRequest{Password: "correct"}, msgBadCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := h.connect(t)
			h.send(t, c, protocol.TypeLoginRequest, tt.req)
			resp := lastLogin(t, c)
			if resp.Success || resp.Message != tt.want {
				t.Fatalf("got %+v, want failure %q", resp, tt.want)
			}
			s, _ := h.reg.Get(c.id)
			if s.State() != session.StateConnected {
				t.Fatalf("failed login left state %v", s.State())
			}
		})
	}
}

func TestLoginWithToken(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	h.send(t, c, protocol.TypeLoginRequest, protocol.LoginRequest{Username: "alice", Token: "tok:alice"})
	if resp := lastLogin(t, c); !resp.Success {
		t.Fatalf("token login failed: %s", resp.Message)
	}
}

func TestLoginTwiceOnSameConnection(t *testing.T) {
	h := newHarness(t)
	c := h.login(t, "alice")
	h.send(t, c, protocol.TypeLoginRequest, protocol.LoginRequest{Username: "alice", Password: "correct"})
	if resp := lastLogin(t, c); resp.Success || resp.Message != msgAlreadyAuthed {
		t.Fatalf("expected already authenticated, got %+v", resp)
	}
}

func TestSecondLoginEvictsFirst(t *testing.T) {
	h := newHarness(t)
	first := h.login(t, "alice")
	watcher := h.login(t, "bob")
	watcher.reset()

	second := h.login(t, "alice")

	if len(first.received(t, protocol.TypeForceDisconnect)) != 1 {
		t.Fatal("first connection did not receive ForceDisconnect")
	}
	var fd protocol.ForceDisconnect
	_ = first.received(t, protocol.TypeForceDisconnect)[0].Into(&fd)
	if fd.Reason != msgEvicted {
		t.Fatalf("unexpected reason %q", fd.Reason)
	}
	if !first.isClosed() || second.isClosed() {
		t.Fatalf("expected exactly the first connection closed: first=%v second=%v", first.isClosed(), second.isClosed())
	}
	active, ok := h.reg.Active("alice")
	if !ok || active.ID() != second.id {
		t.Fatal("second connection should own alice")
	}
	if got := h.reg.AuthenticatedCount(); got != 2 {
		t.Fatalf("expected 2 authenticated sessions, got %d", got)
	}
	if len(watcher.received(t, protocol.TypePlayerJoined)) != 0 {
		t.Fatal("eviction should not announce a fresh join")
	}

	// the transport reporting the old connection gone must not touch the new session
	h.svc.Disconnect(context.Background(), first.id)
	if _, ok := h.reg.Active("alice"); !ok {
		t.Fatal("stale disconnect removed the new session")
	}
}

func TestConcurrentLoginsLeaveOneSession(t *testing.T) {
	h := newHarness(t)
	conns := make([]*fakeConn, 6)
	for i := range conns {
		conns[i] = h.connect(t)
	}
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			h.send(t, c, protocol.TypeLoginRequest, protocol.LoginRequest{Username: "alice", Password: "correct"})
		}(c)
	}
	wg.Wait()

	open := 0
	for _, c := range conns {
		if !c.isClosed() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one surviving connection, got %d", open)
	}
	if got := h.reg.AuthenticatedCount(); got != 1 {
		t.Fatalf("expected one authenticated session, got %d", got)
	}
}

func TestLoginRestoresSavedPlayer(t *testing.T) {
	h := newHarness(t)
	c := h.login(t, "alice")
	h.send(t, c, protocol.TypePlayerUpdate, protocol.PlayerUpdate{Username: "alice", X: 320, Y: 64, Direction: "left"})
	h.svc.Disconnect(context.Background(), c.id)

	again := h.login(t, "alice")
	resp := lastLogin(t, again)
	if resp.X != 320 || resp.Y != 64 || resp.PlayerData.Direction != "left" {
		t.Fatalf("player state not restored: %+v", resp)
	}
}

func TestUnauthorizedMessagesDropped(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ViolationLimit = 3 })
	c := h.connect(t)
	h.send(t, c, protocol.TypeChunkRequest, protocol.ChunkRequest{})
	if len(c.received(t, protocol.TypeChunkData)) != 0 {
		t.Fatal("unauthenticated chunk request was served")
	}
	h.send(t, c, protocol.TypePingRequest, protocol.PingRequest{Timestamp: 1})
	if len(c.received(t, protocol.TypePingResponse)) != 1 {
		t.Fatal("ping should be allowed before login")
	}
	h.svc.Handle(context.Background(), c.id, []byte("not json"))
	if c.isClosed() {
		t.Fatal("closed before reaching the violation limit")
	}
	h.send(t, c, protocol.TypeChatMessage, protocol.ChatMessage{Content: "hi"})
	if !c.isClosed() {
		t.Fatal("expected connection closed after repeated violations")
	}
}

func TestRegisterMessages(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  protocol.RegisterRequest
		ok   bool
		want string
	}{
		{"missing", protocol.RegisterRequest{Username: "misty"}, false, msgRegisterMissing},
		{"bad name", protocol.RegisterRequest{Username: "no spaces", Password: "pw"}, false, msgRegisterBadName},
		{"taken", protocol.RegisterRequest{Username: "Alice", Password: "pw"}, false, msgRegisterTaken},
		{"ok", protocol.RegisterRequest{Username: "misty", Password: "pw"}, true, msgRegisterOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := h.connect(t)
			h.send(t, c, protocol.TypeRegisterRequest, tt.req)
			envs := c.received(t, protocol.TypeRegisterResponse)
			if len(envs) != 1 {
				t.Fatalf("expected one response, got %d", len(envs))
			}
			var resp protocol.RegisterResponse
			_ = envs[0].Into(&resp)
			if resp.Success != tt.ok || resp.Message != tt.want {
				t.Fatalf("got %+v, want %v %q", resp, tt.ok, tt.want)
			}
		})
	}
}

func TestChunkRequestTwiceIdentical(t *testing.T) {
	h := newHarness(t)
	c := h.login(t, "alice")
	h.send(t, c, protocol.TypeChunkRequest, protocol.ChunkRequest{ChunkX: 0, ChunkY: 0})
	h.send(t, c, protocol.TypeChunkRequest, protocol.ChunkRequest{ChunkX: 0, ChunkY: 0})

	envs := c.received(t, protocol.TypeChunkData)
	if len(envs) != 2 {
		t.Fatalf("expected two chunk payloads, got %d", len(envs))
	}
	var a, b protocol.ChunkData
	_ = envs[0].Into(&a)
	_ = envs[1].Into(&b)
	ta, _ := json.Marshal(a.TileData)
	tb, _ := json.Marshal(b.TileData)
	if string(ta) != string(tb) {
		t.Fatal("tile data differs between requests")
	}
	if len(a.TileData) != domainworld.ChunkSize || a.GenerationSeed != chunk.Seed(42, domainworld.ChunkCoord{}) {
		t.Fatalf("unexpected chunk payload: %d columns, seed %d", len(a.TileData), a.GenerationSeed)
	}
}

func TestPlayerUpdateIsBatched(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	h.svc.broadcastTick(context.Background())
	bob.reset()

	h.send(t, alice, protocol.TypePlayerUpdate, protocol.PlayerUpdate{Username: "alice", X: 64, Y: 96, Direction: "up", IsMoving: true})
	h.send(t, alice, protocol.TypePlayerUpdate, protocol.PlayerUpdate{Username: "bob", X: 1, Y: 1})
	h.svc.broadcastTick(context.Background())

	envs := bob.received(t, protocol.TypePlayerPositionsUpdate)
	if len(envs) != 1 {
		t.Fatalf("expected one batch, got %d", len(envs))
	}
	var batch protocol.PlayerPositionsUpdate
	_ = envs[0].Into(&batch)
	if len(batch.Players) != 1 || batch.Players[0].Username != "alice" || batch.Players[0].X != 64 {
		t.Fatalf("unexpected batch: %+v", batch.Players)
	}
	if len(alice.received(t, protocol.TypePlayerPositionsUpdate)) == 0 {
		t.Fatal("sender should receive the batch too")
	}

	bob.reset()
	h.svc.broadcastTick(context.Background())
	if len(bob.received(t, protocol.TypePlayerPositionsUpdate)) != 0 {
		t.Fatal("unchanged players should not be rebroadcast")
	}
}

func TestChatGoesToOthers(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	alice.reset()
	bob.reset()

	h.send(t, alice, protocol.TypeChatMessage, protocol.ChatMessage{Sender: "mallory", Content: "hello"})
	if len(alice.received(t, protocol.TypeChatMessage)) != 0 {
		t.Fatal("sender received own chat")
	}
	envs := bob.received(t, protocol.TypeChatMessage)
	if len(envs) != 1 {
		t.Fatalf("expected one chat line, got %d", len(envs))
	}
	var msg protocol.ChatMessage
	_ = envs[0].Into(&msg)
	if msg.Sender != "alice" || msg.Timestamp == 0 || msg.Type != protocol.ChatNormal {
		t.Fatalf("unexpected chat: %+v", msg)
	}
}

func TestChopStopRemovesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	tx, ty := walkableTile(t, h)
	if _, err := h.chunks.AddObject(context.Background(), domainworld.ObjectTree0, tx, ty); err != nil {
		t.Fatalf("add tree: %v", err)
	}
	target := &protocol.TilePos{X: tx, Y: ty}

	h.send(t, alice, protocol.TypePlayerAction, protocol.PlayerAction{ActionType: protocol.ActionChopStart, TargetPosition: target})
	held, ok := h.chunks.HeldTarget("alice")
	if !ok || held.IsBlock() {
		t.Fatal("alice holds no object target")
	}
	bob.reset()
	h.send(t, bob, protocol.TypePlayerAction, protocol.PlayerAction{ActionType: protocol.ActionChopStart, TargetPosition: target})
	if other, ok := h.chunks.HeldTarget("bob"); ok {
		t.Fatalf("bob acquired a locked target: %+v", other)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(t, alice, protocol.TypePlayerAction, protocol.PlayerAction{ActionType: protocol.ActionChopStop})
		}()
	}
	wg.Wait()

	removals := bob.received(t, protocol.TypeWorldObjectUpdate)
	if len(removals) != 1 {
		t.Fatalf("expected exactly one removal broadcast, got %d", len(removals))
	}
	var upd protocol.WorldObjectUpdate
	_ = removals[0].Into(&upd)
	if upd.ObjectID != held.ObjectID || upd.Type != protocol.ObjectRemove {
		t.Fatalf("unexpected removal: %+v", upd)
	}
	if h.chunks.HasObject(held.ObjectID) {
		t.Fatal("object still present")
	}
	if held.Object.Type.IsTree() {
		if drops := bob.received(t, protocol.TypeItemDrop); len(drops) != 1 {
			t.Fatalf("expected one wood drop, got %d", len(drops))
		}
	}
}

func TestItemPickupOnce(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	h.svc.spawnDrop(woodItemID, woodItemName, 3, 0, 0)

	var drop protocol.ItemDrop
	_ = alice.received(t, protocol.TypeItemDrop)[0].Into(&drop)

	far := protocol.PlayerUpdate{Username: "bob", X: 10 * domainworld.TileSize, Y: 0}
	h.send(t, bob, protocol.TypePlayerUpdate, far)
	h.send(t, bob, protocol.TypeItemPickup, protocol.ItemPickup{DropID: drop.DropID})
	if len(bob.received(t, protocol.TypeItemPickup)) != 0 {
		t.Fatal("pickup from out of range succeeded")
	}

	h.send(t, alice, protocol.TypeItemPickup, protocol.ItemPickup{DropID: drop.DropID})
	h.send(t, alice, protocol.TypeItemPickup, protocol.ItemPickup{DropID: drop.DropID})
	if got := len(bob.received(t, protocol.TypeItemPickup)); got != 1 {
		t.Fatalf("expected one pickup broadcast, got %d", got)
	}
	h.svc.mu.RLock()
	inv := h.svc.players["alice"].state.Inventory[0]
	h.svc.mu.RUnlock()
	if inv == nil || inv.ItemID != woodItemID || inv.Count != 3 {
		t.Fatalf("wood not in inventory: %+v", inv)
	}
}

func TestBlockPlacementTwiceFails(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	tx, ty := walkableTile(t, h)
	place := protocol.BlockPlacement{Username: "alice", Action: protocol.BlockPlace, BlockTypeID: "crafting_table", TileX: tx, TileY: ty}

	h.send(t, alice, protocol.TypeBlockPlacement, place)
	if len(alice.received(t, protocol.TypeError)) != 0 {
		t.Fatal("first placement failed")
	}
	h.send(t, bob, protocol.TypeBlockPlacement, protocol.BlockPlacement{Username: "bob", Action: protocol.BlockPlace, BlockTypeID: "chest", TileX: tx, TileY: ty})
	if len(bob.received(t, protocol.TypeError)) != 1 {
		t.Fatal("second placement should fail")
	}
	b, ok := h.chunks.BlockAt(context.Background(), tx, ty)
	if !ok || b.Type != "crafting_table" || b.Owner != "alice" {
		t.Fatalf("first block changed: %+v", b)
	}
	if len(bob.received(t, protocol.TypeBlockPlacement)) != 1 {
		t.Fatal("others should see the placement")
	}
}

func TestAdvanceClock(t *testing.T) {
	h := newHarness(t)
	upd := h.svc.advanceClock(60)
	want := 480 + 60*(1440/(10*60.0))
	if math.Abs(upd.WorldTimeInMinutes-want) > 1e-9 {
		t.Fatalf("world time: got %v want %v", upd.WorldTimeInMinutes, want)
	}
	upd = h.svc.advanceClock(600)
	if upd.WorldTimeInMinutes < 0 || upd.WorldTimeInMinutes >= 1440 {
		t.Fatalf("world time not wrapped: %v", upd.WorldTimeInMinutes)
	}
	if upd.Seed != 42 || upd.Weather == "" {
		t.Fatalf("unexpected state update: %+v", upd)
	}
}

func TestLeaveNoticeSkippedOnQuickReturn(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.LeaveNoticeDelay = 200 * time.Millisecond })
	bob := h.login(t, "bob")
	alice := h.login(t, "alice")
	bob.reset()

	h.svc.Disconnect(context.Background(), alice.id)
	h.login(t, "alice")
	time.Sleep(300 * time.Millisecond)
	if len(bob.received(t, protocol.TypePlayerLeft)) != 0 {
		t.Fatal("leave notice sent although the player came back")
	}
}

func TestLeaveNoticeAfterDelay(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	alice := h.login(t, "alice")

	h.send(t, alice, protocol.TypeLogout, protocol.Logout{Username: "alice"})
	var resp protocol.LogoutResponse
	_ = alice.received(t, protocol.TypeLogoutResponse)[0].Into(&resp)
	if !resp.Success || !alice.isClosed() {
		t.Fatalf("logout not acknowledged: %+v", resp)
	}
	waitFor(t, "leave notice", func() bool { return len(bob.received(t, protocol.TypePlayerLeft)) == 1 })
	if _, ok := h.reg.Active("alice"); ok {
		t.Fatal("alice still active after logout")
	}
}

func TestSpawnRespectsChunkCap(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxCreaturesPerChunk = 2 })
	h.login(t, "alice")
	if _, err := h.chunks.GetOrGenerate(context.Background(), domainworld.ChunkCoord{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i := 0; i < 200; i++ {
		h.svc.spawnTick(context.Background())
	}
	if n := h.svc.creatures.count(); n == 0 || n > 2 {
		t.Fatalf("expected 1-2 creatures, got %d", n)
	}

	h.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if gone := h.svc.creatures.expire(h.svc.now()); len(gone) == 0 {
		t.Fatal("expected creatures past their lifetime to expire")
	}
	if n := h.svc.creatures.count(); n != 0 {
		t.Fatalf("expected no creatures after expiry, got %d", n)
	}
}

func TestLevelGrowsWithDistance(t *testing.T) {
	h := newHarness(t)
	rng := h.svc.creatures.rng
	near := levelFor(0, 0, rng)
	far := levelFor(200*levelScale, 0, rng)
	if near < 1 || near > 4 {
		t.Fatalf("near level out of range: %d", near)
	}
	if far != 100 {
		t.Fatalf("far level should clamp to 100, got %d", far)
	}
}

func TestSavePersistsPlayersAndWorld(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	h.send(t, alice, protocol.TypePlayerUpdate, protocol.PlayerUpdate{Username: "alice", X: 128, Y: 32})
	if err := h.svc.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, found, err := h.repo.LoadPlayer(context.Background(), player.IDFor("alice"))
	if err != nil || !found || st.X != 128 {
		t.Fatalf("player not saved: %+v %v %v", st, found, err)
	}
	snap, err := h.repo.LoadWorld(context.Background())
	if err != nil {
		t.Fatalf("load world: %v", err)
	}
	if snap.Players["alice"] != player.IDFor("alice") {
		t.Fatalf("world does not list alice: %+v", snap.Players)
	}
}

func TestPlayerUpdateFitsShortInventory(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	h.send(t, alice, protocol.TypePlayerUpdate, protocol.PlayerUpdate{
		Username:       "alice",
		X:              64,
		Y:              64,
		InventoryItems: []*domainworld.ItemStack{{ItemID: "stone", Name: "Stone", Count: 3}, nil, {ItemID: "bad", Count: 0}},
		PartyPokemon:   make([]*player.Creature, player.PartySlots+2),
	})
	if err := h.svc.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, found, err := h.repo.LoadPlayer(context.Background(), player.IDFor("alice"))
	if err != nil || !found {
		t.Fatalf("player not saved: %v %v", found, err)
	}
	if len(st.Inventory) != player.InventorySlots || len(st.Party) != player.PartySlots {
		t.Fatalf("slots not fitted: %d inventory, %d party", len(st.Inventory), len(st.Party))
	}
	if st.Inventory[0] == nil || st.Inventory[0].ItemID != "stone" || st.Inventory[0].Count != 3 {
		t.Fatalf("first stack lost: %+v", st.Inventory[0])
	}
	for i := 1; i < player.InventorySlots; i++ {
		if st.Inventory[i] != nil {
			t.Fatalf("slot %d should be empty, got %+v", i, st.Inventory[i])
		}
	}
}

func TestPluginServerFacade(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	alice.reset()

	srv := h.svc.PluginServer()
	if srv.WorldSeed() != 42 || strings.Join(srv.OnlinePlayers(), ",") != "alice" {
		t.Fatalf("unexpected facade view: %d %v", srv.WorldSeed(), srv.OnlinePlayers())
	}
	srv.BroadcastChat("rain incoming")
	envs := alice.received(t, protocol.TypeChatMessage)
	if len(envs) != 1 {
		t.Fatalf("expected one system chat, got %d", len(envs))
	}
	var msg protocol.ChatMessage
	_ = envs[0].Into(&msg)
	if msg.Type != protocol.ChatSystem || msg.Content != "rain incoming" {
		t.Fatalf("unexpected chat: %+v", msg)
	}
}
