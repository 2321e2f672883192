package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"pokemeetup-server/internal/platform/keylock"
)

type State int

const (
	StateConnected State = iota
	StateAuthPending
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is the transport side of a client connection. Send must not block.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(msg []byte) error
	Close()
}

type Session struct {
	conn        Conn
	connectedAt time.Time

	mu              sync.Mutex
	state           State
	username        string
	authenticatedAt time.Time
	authTimer       *time.Timer
}

func (s *Session) Conn() Conn             { return s.conn }
func (s *Session) ID() string             { return s.conn.ID() }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

type Options struct {
	MaxPlayers         int
	AuthTimeout        time.Duration
	ReconnectCooldown  time.Duration
	JoinSuppressWindow time.Duration
}

// Registry tracks live connections and which username each is bound to.
// At most one connection is bound to a username at any time.
type Registry struct {
	logger zerolog.Logger
	opts   Options
	now    func() time.Time

	mu          deadlock.RWMutex
	conns       map[string]*Session
	users       map[string]string
	disconnects map[string]time.Time

	userLocks *keylock.Map
}

func NewRegistry(logger zerolog.Logger, opts Options) *Registry {
	return &Registry{
		logger:      logger.With().Str("component", "session").Logger(),
		opts:        opts,
		now:         time.Now,
		conns:       make(map[string]*Session),
		users:       make(map[string]string),
		disconnects: make(map[string]time.Time),
		userLocks:   keylock.New(),
	}
}

func userKey(username string) string {
	return strings.ToLower(username)
}

// Accept tracks a new unauthenticated connection and arms its
// authentication timer. It fails with ErrServerFull at capacity.
func (r *Registry) Accept(conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.users) >= r.opts.MaxPlayers {
		return nil, ErrServerFull
	}
	s := &Session{conn: conn, connectedAt: r.now(), state: StateConnected}
	r.conns[conn.ID()] = s
	if r.opts.AuthTimeout > 0 {
		s.authTimer = time.AfterFunc(r.opts.AuthTimeout, func() { r.expireAuth(s) })
	}
	return s, nil
}

func (r *Registry) expireAuth(s *Session) {
	s.mu.Lock()
	authenticated := s.state == StateAuthenticated || s.state == StateDisconnected
	s.mu.Unlock()
	if authenticated {
		return
	}
	r.logger.Info().
		Str("connection_id", s.ID()).
		Str("remote_addr", s.conn.RemoteAddr()).
		Msg("authentication timeout; closing connection")
	r.Remove(s.ID())
	s.conn.Close()
}

func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.conns[connID]
	return s, ok
}

// BeginAuth moves a connection into AuthPending.
func (r *Registry) BeginAuth(connID string) error {
	s, ok := r.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	case StateDisconnected:
		return ErrUnknownConnection
	}
	s.state = StateAuthPending
	return nil
}

// AbortAuth returns a failed login attempt to Connected.
func (r *Registry) AbortAuth(connID string) {
	if s, ok := r.Get(connID); ok {
		s.mu.Lock()
		if s.state == StateAuthPending {
			s.state = StateConnected
		}
		s.mu.Unlock()
	}
}

// LockUser serializes login and logout for one username. The returned func
// releases it.
func (r *Registry) LockUser(username string) func() {
	return r.userLocks.Lock(userKey(username))
}

// CheckCooldown fails while username is inside its reconnect cooldown.
func (r *Registry) CheckCooldown(username string) error {
	if r.opts.ReconnectCooldown <= 0 {
		return nil
	}
	r.mu.RLock()
	last, ok := r.disconnects[userKey(username)]
	r.mu.RUnlock()
	if ok && r.now().Sub(last) < r.opts.ReconnectCooldown {
		return ErrCooldown
	}
	return nil
}

// RapidRejoin reports whether username disconnected within the join
// suppression window.
func (r *Registry) RapidRejoin(username string) bool {
	if r.opts.JoinSuppressWindow <= 0 {
		return false
	}
	r.mu.RLock()
	last, ok := r.disconnects[userKey(username)]
	r.mu.RUnlock()
	return ok && r.now().Sub(last) < r.opts.JoinSuppressWindow
}

// Active returns the session currently bound to username.
func (r *Registry) Active(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userKey(username)]
	if !ok {
		return nil, false
	}
	s, ok := r.conns[id]
	return s, ok
}

// Bind marks the connection authenticated as username. The caller must hold
// the username lock and have evicted any previous session.
func (r *Registry) Bind(connID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	key := userKey(username)
	if other, taken := r.users[key]; taken && other != connID {
		return ErrAlreadyAuthenticated
	}
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrUnknownConnection
	}
	s.state = StateAuthenticated
	s.username = username
	s.authenticatedAt = r.now()
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
	s.mu.Unlock()
	r.users[key] = connID
	return nil
}

// Unbind detaches username from connID and records the disconnect time. It
// is a no-op when another connection now owns the username.
func (r *Registry) Unbind(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(connID)
}

func (r *Registry) unbindLocked(connID string) (string, bool) {
	s, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	s.mu.Lock()
	name := s.username
	bound := s.state == StateAuthenticated
	if bound {
		s.state = StateDisconnected
	}
	s.mu.Unlock()
	if !bound {
		return "", false
	}
	key := userKey(name)
	if r.users[key] == connID {
		delete(r.users, key)
		r.disconnects[key] = r.now()
	}
	return name, true
}

// Remove forgets a connection entirely and returns the username it was
// bound to, if any.
func (r *Registry) Remove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, bound := r.unbindLocked(connID)
	if s, ok := r.conns[connID]; ok {
		s.mu.Lock()
		s.state = StateDisconnected
		if s.authTimer != nil {
			s.authTimer.Stop()
		}
		s.mu.Unlock()
		delete(r.conns, connID)
	}
	return name, bound
}

// Send delivers msg to one connection.
func (r *Registry) Send(connID string, msg []byte) error {
	s, ok := r.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return s.conn.Send(msg)
}

// SendTo delivers msg to the connection bound to username.
func (r *Registry) SendTo(username string, msg []byte) error {
	s, ok := r.Active(username)
	if !ok {
		return ErrNotAuthenticated
	}
	return s.conn.Send(msg)
}

// Broadcast sends msg to every authenticated connection except the listed
// connection ids.
func (r *Registry) Broadcast(msg []byte, exclude ...string) {
	for _, s := range r.authenticated() {
		skip := false
		for _, id := range exclude {
			if s.ID() == id {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if err := s.conn.Send(msg); err != nil {
			r.logger.Debug().Err(err).Str("connection_id", s.ID()).Msg("broadcast send failed")
		}
	}
}

// BroadcastAll sends msg to every connection, authenticated or not.
func (r *Registry) BroadcastAll(msg []byte) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, s := range r.conns {
		conns = append(conns, s.conn)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		_ = c.Send(msg)
	}
}

func (r *Registry) authenticated() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.users))
	for _, id := range r.users {
		if s, ok := r.conns[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Usernames lists bound usernames in sorted order.
func (r *Registry) Usernames() []string {
	sessions := r.authenticated()
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Username())
	}
	sort.Strings(out)
	return out
}

func (r *Registry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CleanupDisconnects drops disconnect records older than both the cooldown
// and the join suppression window.
func (r *Registry) CleanupDisconnects() int {
	keep := r.opts.ReconnectCooldown
	if r.opts.JoinSuppressWindow > keep {
		keep = r.opts.JoinSuppressWindow
	}
	cutoff := r.now().Add(-keep)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, at := range r.disconnects {
		if !at.After(cutoff) {
			delete(r.disconnects, key)
			n++
		}
	}
	return n
}

// CloseAll closes every connection.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, s := range r.conns {
		conns = append(conns, s.conn)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
