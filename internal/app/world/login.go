package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pokemeetup-server/internal/app/auth"
	"pokemeetup-server/internal/app/session"
	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/protocol"
	"pokemeetup-server/internal/platform/mq"
)

const (
	msgLoginOK          = "Login successful"
	msgBadCredentials   = "Invalid credentials"
	msgCooldown         = "Please wait before reconnecting"
	msgServerError      = "Server error occurred"
	msgAlreadyAuthed    = "Already authenticated"
	msgServerFull       = "Server is full"
	msgEvicted          = "Logged in from another location"
	msgRegisterOK       = "Registration successful!"
	msgRegisterMissing  = "Username and password are required."
	msgRegisterBadName  = "Username must be 3-20 characters long and contain only letters, numbers, and underscores."
	msgRegisterTaken    = "Username already exists."
	msgRegisterFailed   = "Registration failed. Please try again."
	msgLogoutOK         = "Logged out"
	msgLogoutNotAllowed = "Cannot log out another player"
)

var errForeignUsername = errors.New("message names another player")

type loginResult struct {
	state  *player.State
	token  string
	quiet  bool
	evicts bool
}

func (s *Service) handleLogin(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.LoginRequest
	if err := env.Into(&req); err != nil {
		return err
	}
	connID := sess.ID()
	if err := s.sessions.BeginAuth(connID); err != nil {
		if errors.Is(err, session.ErrAlreadyAuthenticated) {
			s.send(connID, protocol.TypeLoginResponse, protocol.LoginResponse{Message: msgAlreadyAuthed, Timestamp: s.stamp()})
		}
		return nil
	}

	res, err := s.authenticate(ctx, connID, req)
	if err != nil {
		s.sessions.AbortAuth(connID)
		s.logger.Info().Err(err).Str("username", req.Username).Str("connection_id", connID).Msg("login rejected")
		s.send(connID, protocol.TypeLoginResponse, protocol.LoginResponse{Message: loginFailureMessage(err), Timestamp: s.stamp()})
		return nil
	}

	st := res.state
	s.mu.RLock()
	resp := protocol.LoginResponse{
		Success:            true,
		Message:            msgLoginOK,
		Username:           st.Username,
		X:                  st.X,
		Y:                  st.Y,
		Seed:               s.snap.Seed,
		WorldTimeInMinutes: s.snap.WorldTimeInMinutes,
		DayLength:          s.snap.DayLength,
		Timestamp:          s.stamp(),
		PlayerData:         st,
		Token:              res.token,
	}
	s.mu.RUnlock()
	s.send(connID, protocol.TypeLoginResponse, resp)

	joined := protocol.PlayerJoined{Username: st.Username, X: st.X, Y: st.Y, Direction: st.Direction, Timestamp: s.stamp()}
	if !res.quiet {
		s.broadcast(protocol.TypePlayerJoined, joined, connID)
		chat := protocol.ChatMessage{Sender: "System", Content: st.Username + " joined the game", Type: protocol.ChatSystem, Timestamp: s.stamp()}
		s.broadcast(protocol.TypeChatMessage, chat, connID)
	}
	s.publish(ctx, mq.SubjectPlayerJoined, joined)
	s.broadcastPlayerList()
	s.send(connID, protocol.TypePokemonBatchUpdate, protocol.PokemonBatchUpdate{Updates: s.creatures.snapshot(s.stamp())})

	s.logger.Info().
		Str("username", st.Username).
		Str("connection_id", connID).
		Bool("evicted_previous", res.evicts).
		Msg("player logged in")
	return nil
}

// authenticate runs the login critical section for one username: cooldown,
// credential check, eviction of an older session, then binding.
func (s *Service) authenticate(ctx context.Context, connID string, req protocol.LoginRequest) (loginResult, error) {
	name := strings.TrimSpace(req.Username)
	if name == "" {
		return loginResult{}, auth.ErrInvalidCredentials
	}
	unlock := s.sessions.LockUser(name)
	defer unlock()

	if err := s.sessions.CheckCooldown(name); err != nil {
		return loginResult{}, err
	}
	stored, err := s.verify(ctx, name, req)
	if err != nil {
		return loginResult{}, err
	}

	res := loginResult{quiet: s.sessions.RapidRejoin(stored)}
	if old, ok := s.sessions.Active(stored); ok && old.ID() != connID {
		s.evict(ctx, old)
		res.evicts = true
		res.quiet = true
	} else if s.sessions.AuthenticatedCount() >= s.opts.MaxPlayers {
		return loginResult{}, session.ErrServerFull
	}

	st, err := s.loadPlayer(ctx, stored)
	if err != nil {
		return loginResult{}, err
	}
	if err := s.sessions.Bind(connID, stored); err != nil {
		return loginResult{}, err
	}

	rt := &playerRuntime{connID: connID, state: st, moved: true}
	rt.chunk = chunkOf(st)
	if st.LastSaved == 0 {
		rt.touch()
	}
	s.mu.Lock()
	s.players[userKey(stored)] = rt
	s.snap.Players[stored] = st.ID
	res.state = st.Clone()
	s.mu.Unlock()

	if token, err := s.creds.IssueToken(stored); err == nil {
		res.token = token
	} else {
		s.logger.Warn().Err(err).Str("username", stored).Msg("issue session token failed")
	}
	return res, nil
}

// verify checks a password or a previously issued session token and
// returns the username with its registered casing.
func (s *Service) verify(ctx context.Context, name string, req protocol.LoginRequest) (string, error) {
	if req.Token != "" {
		owner, err := s.creds.ParseToken(req.Token)
		if err != nil || !strings.EqualFold(owner, name) {
			return "", auth.ErrInvalidCredentials
		}
		return owner, nil
	}
	return s.creds.VerifyPassword(ctx, name, req.Password)
}

// evict disconnects the session currently bound to a username. The caller
// holds that username's lock.
func (s *Service) evict(ctx context.Context, old *session.Session) {
	s.logger.Info().Str("username", old.Username()).Str("connection_id", old.ID()).Msg("evicting previous session")
	s.send(old.ID(), protocol.TypeForceDisconnect, protocol.ForceDisconnect{Reason: msgEvicted})
	if s.opts.EvictGrace > 0 {
		time.Sleep(s.opts.EvictGrace)
	}
	old.Conn().Close()
	s.detach(ctx, old.ID())
}

// detach persists and forgets the player bound to connID. It reports false
// when the connection no longer owns a player, which makes repeated calls
// harmless.
func (s *Service) detach(ctx context.Context, connID string) bool {
	name, ok := s.sessions.Unbind(connID)
	if !ok {
		return false
	}
	key := userKey(name)
	s.mu.Lock()
	rt, found := s.players[key]
	if found && rt.connID == connID {
		delete(s.players, key)
	} else {
		found = false
	}
	s.mu.Unlock()

	s.chunks.ReleaseTarget(name)
	if found {
		if err := s.repo.SavePlayer(ctx, rt.state); err != nil {
			s.logger.Error().Err(err).Str("username", name).Msg("save player on disconnect failed")
		}
	}
	return true
}

// scheduleLeaveNotice announces a departure after a short delay, unless
// the player is back by then.
func (s *Service) scheduleLeaveNotice(name string) {
	time.AfterFunc(s.opts.LeaveNoticeDelay, func() {
		if _, ok := s.sessions.Active(name); ok {
			return
		}
		left := protocol.PlayerLeft{Username: name, Timestamp: s.stamp()}
		s.broadcast(protocol.TypePlayerLeft, left)
		s.broadcast(protocol.TypeChatMessage, protocol.ChatMessage{
			Sender:    "System",
			Content:   name + " left the game",
			Type:      protocol.ChatSystem,
			Timestamp: s.stamp(),
		})
		s.broadcastPlayerList()
		s.publish(context.Background(), mq.SubjectPlayerLeft, left)
	})
}

func (s *Service) loadPlayer(ctx context.Context, name string) (*player.State, error) {
	st, found, err := s.repo.LoadPlayer(ctx, player.IDFor(name))
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", name, err)
	}
	if !found {
		s.logger.Info().Str("username", name).Msg("creating new player")
		return player.New(name), nil
	}
	st.Username = name
	if fixed := st.Repair(); len(fixed) > 0 {
		s.logger.Warn().Str("username", name).Strs("fields", fixed).Msg("repaired player state")
		st.LastSaved = 0
	}
	return st, nil
}

func loginFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return msgBadCredentials
	case errors.Is(err, session.ErrCooldown):
		return msgCooldown
	case errors.Is(err, session.ErrServerFull):
		return msgServerFull
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		return msgAlreadyAuthed
	default:
		return msgServerError
	}
}

func (s *Service) handleRegister(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.RegisterRequest
	if err := env.Into(&req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Username)
	err := s.creds.Register(ctx, name, req.Password)
	resp := protocol.RegisterResponse{Success: err == nil, Message: registerMessage(err)}
	if err != nil && resp.Message == msgRegisterFailed {
		s.logger.Error().Err(err).Str("username", name).Msg("registration failed")
	} else if err == nil {
		s.logger.Info().Str("username", name).Msg("registered new account")
	}
	s.send(sess.ID(), protocol.TypeRegisterResponse, resp)
	return nil
}

func registerMessage(err error) string {
	switch {
	case err == nil:
		return msgRegisterOK
	case errors.Is(err, auth.ErrMissingFields):
		return msgRegisterMissing
	case errors.Is(err, auth.ErrInvalidUsername):
		return msgRegisterBadName
	case errors.Is(err, auth.ErrUsernameTaken):
		return msgRegisterTaken
	default:
		return msgRegisterFailed
	}
}

func (s *Service) handleLogout(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.Logout
	if err := env.Into(&req); err != nil {
		return err
	}
	name := sess.Username()
	if req.Username != "" && !strings.EqualFold(req.Username, name) {
		s.send(sess.ID(), protocol.TypeLogoutResponse, protocol.LogoutResponse{Message: msgLogoutNotAllowed})
		return errForeignUsername
	}

	unlock := s.sessions.LockUser(name)
	detached := s.detach(ctx, sess.ID())
	unlock()

	s.send(sess.ID(), protocol.TypeLogoutResponse, protocol.LogoutResponse{Success: detached, Message: msgLogoutOK})
	if detached {
		s.scheduleLeaveNotice(name)
		s.logger.Info().Str("username", name).Msg("player logged out")
	}
	sess.Conn().Close()
	return nil
}
