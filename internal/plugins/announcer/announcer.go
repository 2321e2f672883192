// Package announcer is a built-in plugin that cycles a list of system chat
// messages to everyone online.
package announcer

import (
	"fmt"
	"sync"
	"time"

	"pokemeetup-server/internal/app/plugin"
)

const (
	ID = "announcer"

	messagesKey = "messages"
	intervalKey = "interval"

	defaultInterval = 10 * time.Minute
)

var defaultMessages = []string{"Welcome to PokeMeetup! Be kind to your fellow trainers."}

type Announcer struct {
	messages []string
	interval time.Duration

	stop chan struct{}
	done sync.WaitGroup
}

func New() plugin.Plugin {
	return &Announcer{}
}

// Register adds the announcer to a plugin registry under its id.
func Register(r *plugin.Registry) error {
	return r.Register(ID, New)
}

func (a *Announcer) ID() string { return ID }

// OnLoad reads the message list and interval, writing defaults for missing
// keys so they show up in the saved config.
func (a *Announcer) OnLoad(ctx *plugin.Context) error {
	found, err := ctx.Config.Get(messagesKey, &a.messages)
	if err != nil {
		return err
	}
	if !found {
		a.messages = defaultMessages
		if err := ctx.Config.Set(messagesKey, a.messages); err != nil {
			return err
		}
	}

	var raw string
	found, err = ctx.Config.Get(intervalKey, &raw)
	if err != nil {
		return err
	}
	if !found {
		a.interval = defaultInterval
		return ctx.Config.Set(intervalKey, defaultInterval.String())
	}
	a.interval, err = time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("announcer interval: %w", err)
	}
	if a.interval <= 0 {
		return fmt.Errorf("announcer interval must be > 0, got %s", raw)
	}
	return nil
}

func (a *Announcer) OnEnable(ctx *plugin.Context) error {
	if len(a.messages) == 0 {
		ctx.Logger.Info().Msg("no announcements configured")
		return nil
	}
	a.stop = make(chan struct{})
	a.done.Add(1)
	go a.run(ctx.Server, a.stop)
	ctx.Logger.Info().Int("messages", len(a.messages)).Dur("interval", a.interval).Msg("announcements scheduled")
	return nil
}

func (a *Announcer) OnDisable(*plugin.Context) error {
	if a.stop != nil {
		close(a.stop)
		a.done.Wait()
		a.stop = nil
	}
	return nil
}

func (a *Announcer) run(srv plugin.Server, stop <-chan struct{}) {
	defer a.done.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	next := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Nobody to hear it.
			if len(srv.OnlinePlayers()) == 0 {
				continue
			}
			srv.BroadcastChat(a.messages[next])
			next = (next + 1) % len(a.messages)
		}
	}
}
