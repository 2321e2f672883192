package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/pixil98/go-errors"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

// Plugin is an extension compiled into the server binary and switched on by
// a manifest in the plugin directory.
type Plugin interface {
	ID() string
	OnLoad(*Context) error
	OnEnable(*Context) error
	OnDisable(*Context) error
}

type Factory func() Plugin

// Server is the slice of the running world a plugin may touch.
type Server interface {
	BroadcastChat(content string)
	OnlinePlayers() []string
	WorldSeed() int64
}

// Context is handed to every lifecycle call of one plugin.
type Context struct {
	Logger   zerolog.Logger
	Config   *Config
	Server   Server
	Manifest Manifest
}

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	if f == nil {
		return fmt.Errorf("plugin factory %q is nil", name)
	}
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	r.factories[name] = f
	return nil
}

type loaded struct {
	plugin Plugin
	ctx    *Context
}

// Host owns the lifecycle of every plugin found in its directory.
type Host struct {
	logger   zerolog.Logger
	dir      string
	registry *Registry
	server   Server

	mu      deadlock.Mutex
	plugins map[string]*loaded
	enabled []string
	failed  map[string]error
}

func NewHost(logger zerolog.Logger, dir string, registry *Registry, server Server) *Host {
	return &Host{
		logger:   logger.With().Str("component", "plugin_host").Logger(),
		dir:      dir,
		registry: registry,
		server:   server,
		plugins:  map[string]*loaded{},
		failed:   map[string]error{},
	}
}

// LoadAll reads every <dir>/<id>/plugin.json, instantiates the registered
// plugin and calls OnLoad. Broken plugins are skipped and reported together.
func (h *Host) LoadAll() error {
	entries, err := os.ReadDir(h.dir)
	if os.IsNotExist(err) {
		h.logger.Info().Str("dir", h.dir).Msg("no plugin directory")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plugin dir: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	el := errors.NewErrorList()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(h.dir, e.Name(), manifestFile)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		m, err := readManifest(path)
		if err != nil {
			el.Add(err)
			continue
		}
		el.Add(h.load(m))
	}
	return el.Err()
}

func (h *Host) load(m Manifest) error {
	if _, ok := h.plugins[m.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, m.ID)
	}
	factory, ok := h.registry.factories[m.entry()]
	if !ok {
		return h.fail(m.ID, fmt.Errorf("plugin %s: %w: %s", m.ID, ErrUnknownPlugin, m.entry()))
	}
	cfg, err := LoadConfig(filepath.Join(h.dir, m.ID+".config.json"))
	if err != nil {
		return h.fail(m.ID, fmt.Errorf("plugin %s: %w", m.ID, err))
	}
	ctx := &Context{
		Logger:   h.logger.With().Str("plugin", m.ID).Logger(),
		Config:   cfg,
		Server:   h.server,
		Manifest: m,
	}
	p := factory()
	if err := p.OnLoad(ctx); err != nil {
		return h.fail(m.ID, fmt.Errorf("load plugin %s: %w", m.ID, err))
	}
	h.plugins[m.ID] = &loaded{plugin: p, ctx: ctx}
	h.logger.Info().Str("plugin", m.ID).Str("version", m.Version).Msg("plugin loaded")
	return nil
}

func (h *Host) fail(id string, err error) error {
	h.failed[id] = err
	return err
}

// EnableAll enables loaded plugins dependencies first. Plugins caught in a
// cycle, missing a dependency, or depending on one that failed are skipped;
// the rest still enable.
func (h *Host) EnableAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	order, problems := resolveOrder(h.manifests())
	el := errors.NewErrorList()
	for _, id := range sortedKeys(problems) {
		el.Add(h.fail(id, problems[id]))
	}

	for _, id := range order {
		l := h.plugins[id]
		if dep, ok := h.firstUnavailable(l.ctx.Manifest); ok {
			el.Add(h.fail(id, fmt.Errorf("plugin %s: %w: %s failed to enable", id, ErrMissingDependency, dep)))
			continue
		}
		if err := l.plugin.OnEnable(l.ctx); err != nil {
			el.Add(h.fail(id, fmt.Errorf("enable plugin %s: %w", id, err)))
			continue
		}
		h.enabled = append(h.enabled, id)
		h.logger.Info().Str("plugin", id).Msg("plugin enabled")
	}
	return el.Err()
}

func (h *Host) firstUnavailable(m Manifest) (string, bool) {
	for _, dep := range m.Dependencies {
		if !slices.Contains(h.enabled, dep) {
			return dep, true
		}
	}
	return "", false
}

// DisableAll disables in the reverse of the enable order and saves each
// plugin's configuration.
func (h *Host) DisableAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	el := errors.NewErrorList()
	for i := len(h.enabled) - 1; i >= 0; i-- {
		id := h.enabled[i]
		l := h.plugins[id]
		if err := l.plugin.OnDisable(l.ctx); err != nil {
			el.Add(fmt.Errorf("disable plugin %s: %w", id, err))
		}
		if err := l.ctx.Config.Save(); err != nil {
			el.Add(fmt.Errorf("save config of plugin %s: %w", id, err))
		}
		h.logger.Info().Str("plugin", id).Msg("plugin disabled")
	}
	h.enabled = nil
	return el.Err()
}

func (h *Host) Enabled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.enabled)
}

// Failure returns why a plugin could not be loaded or enabled.
func (h *Host) Failure(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed[id]
}

func (h *Host) manifests() map[string]Manifest {
	out := make(map[string]Manifest, len(h.plugins))
	for id, l := range h.plugins {
		out[id] = l.ctx.Manifest
	}
	return out
}

const (
	unvisited = iota
	visiting
	done
	broken
)

// resolveOrder runs a depth-first topological sort. It returns the enable
// order for the healthy part of the graph and an error per plugin that
// cannot be ordered.
func resolveOrder(manifests map[string]Manifest) ([]string, map[string]error) {
	state := make(map[string]int, len(manifests))
	problems := map[string]error{}
	var order []string
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case broken:
			return problems[id]
		case visiting:
			i := slices.Index(stack, id)
			cycle := append(slices.Clone(stack[i:]), id)
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
		}
		state[id] = visiting
		stack = append(stack, id)
		defer func() { stack = stack[:len(stack)-1] }()

		deps := slices.Clone(manifests[id].Dependencies)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := manifests[dep]; !ok {
				err := fmt.Errorf("plugin %s: %w: %s", id, ErrMissingDependency, dep)
				state[id], problems[id] = broken, err
				return err
			}
			if err := visit(dep); err != nil {
				err = fmt.Errorf("plugin %s: %w", id, err)
				state[id], problems[id] = broken, err
				return err
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range sortedKeys(manifests) {
		_ = visit(id)
	}
	return order, problems
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
