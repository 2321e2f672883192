package session

import "errors"

var (
	ErrServerFull           = errors.New("server is full")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrCooldown             = errors.New("reconnect cooldown active")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrUnknownConnection    = errors.New("unknown connection")
)
