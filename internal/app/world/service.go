package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"pokemeetup-server/internal/app/chunk"
	"pokemeetup-server/internal/app/session"
	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/protocol"
	domainworld "pokemeetup-server/internal/domain/world"
	"pokemeetup-server/internal/platform/config"
	"pokemeetup-server/internal/platform/mq"
	"pokemeetup-server/internal/platform/scheduler"
)

const (
	Version = "0.4.0"

	shutdownReason = "Server is shutting down"
	shutdownGrace  = 500 * time.Millisecond
	schedulerDrain = 5 * time.Second
	fullCloseDelay = 100 * time.Millisecond
)

var ErrShuttingDown = errors.New("server is shutting down")

// Credentials is the credential store consumed by the login flow.
type Credentials interface {
	VerifyPassword(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) error
	ParseToken(token string) (string, error)
	IssueToken(username string) (string, error)
}

// Repository persists players and the world snapshot.
type Repository interface {
	LoadPlayer(ctx context.Context, id uuid.UUID) (*player.State, bool, error)
	SavePlayer(ctx context.Context, st *player.State) error
	SaveWorld(ctx context.Context, snap *domainworld.Snapshot) error
}

type Options struct {
	ServerName string
	MOTD       string
	IconBase64 string
	MaxPlayers int

	EvictGrace       time.Duration
	LeaveNoticeDelay time.Duration

	BroadcastInterval time.Duration
	AutosaveInterval  time.Duration
	CleanupInterval   time.Duration
	SpawnInterval     time.Duration
	WorldTimeInterval time.Duration
	ChunkEvictAfter   time.Duration

	MovementBatchSize    int
	CreatureTTL          time.Duration
	MaxCreaturesPerChunk int
	ViolationLimit       int
}

func OptionsFromConfig(cfg config.Config, iconBase64 string) Options {
	return Options{
		ServerName:           cfg.ServerName,
		MOTD:                 cfg.ServerMOTD,
		IconBase64:           iconBase64,
		MaxPlayers:           cfg.MaxPlayers,
		EvictGrace:           cfg.EvictGrace,
		LeaveNoticeDelay:     cfg.LeaveNoticeDelay,
		BroadcastInterval:    cfg.BroadcastInterval(),
		AutosaveInterval:     cfg.AutosaveInterval,
		CleanupInterval:      cfg.CleanupInterval,
		SpawnInterval:        cfg.SpawnInterval,
		WorldTimeInterval:    cfg.WorldTimeInterval,
		ChunkEvictAfter:      cfg.ChunkEvictAfter,
		MovementBatchSize:    cfg.MovementBatchSize,
		CreatureTTL:          cfg.CreatureTTL,
		MaxCreaturesPerChunk: cfg.MaxCreaturesPerChunk,
		ViolationLimit:       cfg.ProtocolViolationLimit,
	}
}

type Deps struct {
	Sessions    *session.Registry
	Chunks      *chunk.Store
	Repo        Repository
	Credentials Credentials
	Publisher   mq.Publisher
	Scheduler   *scheduler.Scheduler
}

type playerRuntime struct {
	connID  string
	state   *player.State
	chunk   domainworld.ChunkCoord
	ping    int64
	moved   bool
	version uint64
	saved   uint64
}

func (p *playerRuntime) touch() {
	p.version++
}

type handlerFunc func(ctx context.Context, sess *session.Session, env protocol.Envelope) error

// Service is the authoritative world: it owns the world clock, the online
// players and the drops lying around, and dispatches every client message.
type Service struct {
	logger   zerolog.Logger
	opts     Options
	sessions *session.Registry
	chunks   *chunk.Store
	repo     Repository
	creds    Credentials
	pub      mq.Publisher
	sched    *scheduler.Scheduler
	now      func() time.Time

	mu       deadlock.RWMutex
	snap     *domainworld.Snapshot
	players  map[string]*playerRuntime
	drops    map[string]*domainworld.ItemDrop
	lastTick time.Time

	creatures *creatures

	violMu     sync.Mutex
	violations map[string]int

	handlers map[protocol.Type]handlerFunc
	stopping atomic.Bool
}

func NewService(logger zerolog.Logger, opts Options, snap *domainworld.Snapshot, deps Deps) *Service {
	if opts.MovementBatchSize <= 0 {
		opts.MovementBatchSize = 32
	}
	s := &Service{
		logger:     logger.With().Str("component", "world").Logger(),
		opts:       opts,
		sessions:   deps.Sessions,
		chunks:     deps.Chunks,
		repo:       deps.Repo,
		creds:      deps.Credentials,
		pub:        deps.Publisher,
		sched:      deps.Scheduler,
		now:        time.Now,
		snap:       snap,
		players:    make(map[string]*playerRuntime),
		drops:      make(map[string]*domainworld.ItemDrop),
		creatures:  newCreatures(snap.Seed, opts.CreatureTTL, opts.MaxCreaturesPerChunk),
		violations: make(map[string]int),
	}
	if fixed := snap.Repair(); len(fixed) > 0 {
		s.logger.Warn().Strs("fields", fixed).Msg("repaired world snapshot")
	}
	s.lastTick = s.now()
	s.handlers = map[protocol.Type]handlerFunc{
		protocol.TypeLoginRequest:      s.handleLogin,
		protocol.TypeRegisterRequest:   s.handleRegister,
		protocol.TypeLogout:            s.handleLogout,
		protocol.TypeChunkRequest:      s.handleChunkRequest,
		protocol.TypePlayerUpdate:      s.handlePlayerUpdate,
		protocol.TypeChatMessage:       s.handleChat,
		protocol.TypePlayerAction:      s.handlePlayerAction,
		protocol.TypeBlockPlacement:    s.handleBlockPlacement,
		protocol.TypeWorldObjectUpdate: s.handleWorldObjectUpdate,
		protocol.TypeServerInfoRequest: s.handleServerInfo,
		protocol.TypePingRequest:       s.handlePing,
		protocol.TypeItemPickup:        s.handleItemPickup,
		protocol.TypeChestUpdate:       s.handleChestUpdate,
	}
	return s
}

// Start registers the periodic tasks and starts the scheduler.
func (s *Service) Start() {
	s.sched.Every("movement-broadcast", s.opts.BroadcastInterval, s.broadcastTick)
	s.sched.Every("world-time", s.opts.WorldTimeInterval, s.clockTick)
	s.sched.Every("session-cleanup", s.opts.CleanupInterval, s.cleanupTick)
	s.sched.Every("creature-spawn", s.opts.SpawnInterval, s.spawnTick)
	s.sched.Every("autosave", s.opts.AutosaveInterval, s.autosaveTick)
	s.sched.Start()
	s.logger.Info().
		Int64("seed", s.Seed()).
		Str("world", s.snap.Name).
		Msg("world service started")
}

// Connect admits a freshly accepted connection, or rejects it when the
// server is full.
func (s *Service) Connect(conn session.Conn) error {
	if s.stopping.Load() {
		_ = conn.Send(protocol.MustEncode(protocol.TypeConnectionResponse, protocol.ConnectionResponse{Message: shutdownReason}))
		conn.Close()
		return ErrShuttingDown
	}
	if _, err := s.sessions.Accept(conn); err != nil {
		_ = conn.Send(protocol.MustEncode(protocol.TypeConnectionResponse, protocol.ConnectionResponse{Message: "Server is full"}))
		time.AfterFunc(fullCloseDelay, conn.Close)
		s.logger.Info().Str("remote_addr", conn.RemoteAddr()).Msg("rejected connection: server full")
		return err
	}
	s.send(conn.ID(), protocol.TypeConnectionResponse, protocol.ConnectionResponse{Success: true, Message: "Connection established"})
	s.logger.Debug().Str("connection_id", conn.ID()).Str("remote_addr", conn.RemoteAddr()).Msg("connection accepted")
	return nil
}

// Handle decodes and dispatches one inbound frame. Nothing a handler does
// escapes to the caller.
func (s *Service) Handle(ctx context.Context, connID string, raw []byte) {
	var msgType protocol.Type
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("connection_id", connID).
				Str("type", string(msgType)).
				Msg("message handler panicked")
		}
	}()

	sess, ok := s.sessions.Get(connID)
	if !ok {
		return
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		s.violation(sess, env.Type, err)
		return
	}
	msgType = env.Type
	if sess.State() != session.StateAuthenticated && !env.Type.AllowedBeforeAuth() {
		s.logger.Warn().Str("connection_id", connID).Str("type", string(env.Type)).Msg("received unauthorized message")
		s.violation(sess, env.Type, session.ErrNotAuthenticated)
		return
	}
	h, ok := s.handlers[env.Type]
	if !ok {
		s.violation(sess, env.Type, fmt.Errorf("%w: %s is server-to-client", protocol.ErrUnknownType, env.Type))
		return
	}
	if err := h(ctx, sess, env); err != nil {
		s.violation(sess, env.Type, err)
	}
}

// Disconnect cleans up after a connection that went away.
func (s *Service) Disconnect(ctx context.Context, connID string) {
	sess, ok := s.sessions.Get(connID)
	if !ok {
		return
	}
	if name := sess.Username(); name != "" {
		unlock := s.sessions.LockUser(name)
		detached := s.detach(ctx, connID)
		unlock()
		if detached {
			s.scheduleLeaveNotice(name)
			s.logger.Info().Str("username", name).Msg("player disconnected")
		}
	}
	s.sessions.Remove(connID)
	s.violMu.Lock()
	delete(s.violations, connID)
	s.violMu.Unlock()
}

func (s *Service) violation(sess *session.Session, t protocol.Type, err error) {
	s.violMu.Lock()
	s.violations[sess.ID()]++
	n := s.violations[sess.ID()]
	s.violMu.Unlock()

	s.logger.Debug().Err(err).Str("connection_id", sess.ID()).Str("type", string(t)).Int("count", n).Msg("dropped message")
	if s.opts.ViolationLimit > 0 && n >= s.opts.ViolationLimit {
		s.logger.Warn().Str("connection_id", sess.ID()).Int("count", n).Msg("closing connection after repeated protocol violations")
		sess.Conn().Close()
	}
}

func (s *Service) send(connID string, t protocol.Type, payload any) {
	b, err := protocol.Encode(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("encode message failed")
		return
	}
	if err := s.sessions.Send(connID, b); err != nil {
		s.logger.Debug().Err(err).Str("connection_id", connID).Str("type", string(t)).Msg("send failed")
	}
}

func (s *Service) broadcast(t protocol.Type, payload any, exclude ...string) {
	b, err := protocol.Encode(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("encode message failed")
		return
	}
	s.sessions.Broadcast(b, exclude...)
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if err := mq.PublishJSON(ctx, s.pub, subject, payload); err != nil {
		s.logger.Debug().Err(err).Str("subject", subject).Msg("publish event failed")
	}
}

func (s *Service) stamp() int64 {
	return s.now().UnixMilli()
}

func userKey(name string) string {
	return strings.ToLower(name)
}

func (s *Service) Seed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Seed
}

// Info describes the server for ServerInfoRequest and the HTTP surface.
func (s *Service) Info() protocol.ServerInfo {
	return protocol.ServerInfo{
		Name:        s.opts.ServerName,
		MOTD:        s.opts.MOTD,
		PlayerCount: s.sessions.AuthenticatedCount(),
		MaxPlayers:  s.opts.MaxPlayers,
		Version:     Version,
		IconBase64:  s.opts.IconBase64,
	}
}

// OnlinePlayers lists online players sorted by username.
func (s *Service) OnlinePlayers() []protocol.PlayerListEntry {
	s.mu.RLock()
	out := make([]protocol.PlayerListEntry, 0, len(s.players))
	for _, rt := range s.players {
		out = append(out, protocol.PlayerListEntry{
			Username: rt.state.Username,
			X:        rt.state.X,
			Y:        rt.state.Y,
			Ping:     rt.ping,
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *Service) broadcastPlayerList() {
	s.broadcast(protocol.TypePlayerList, protocol.PlayerList{Players: s.OnlinePlayers(), Timestamp: s.stamp()})
}

// BroadcastChat sends a system chat line to every player.
func (s *Service) BroadcastChat(content string) {
	msg := protocol.ChatMessage{Sender: "System", Content: content, Type: protocol.ChatSystem, Timestamp: s.stamp()}
	s.broadcast(protocol.TypeChatMessage, msg)
	s.publish(context.Background(), mq.SubjectChat, msg)
}

// Usernames lists the names of online players.
func (s *Service) Usernames() []string {
	return s.sessions.Usernames()
}

// Accepting reports whether new connections are admitted.
func (s *Service) Accepting() bool {
	return !s.stopping.Load()
}

// Drain announces the shutdown and waits out the grace period. New
// connections are refused from here on.
func (s *Service) Drain(ctx context.Context) {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info().Msg("announcing shutdown")
	s.sessions.BroadcastAll(protocol.MustEncode(protocol.TypeServerShutdown, protocol.ServerShutdown{Reason: shutdownReason}))
	select {
	case <-time.After(shutdownGrace):
	case <-ctx.Done():
	}
}

// Close persists everything, stops the periodic tasks and drops every
// connection.
func (s *Service) Close(ctx context.Context) error {
	s.stopping.Store(true)
	err := s.Save(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("final save incomplete")
	}
	if !s.sched.Stop(schedulerDrain) {
		s.logger.Warn().Msg("scheduler forced to stop")
	}
	s.sessions.CloseAll()
	s.logger.Info().Msg("world service stopped")
	return err
}
