package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"pokemeetup-server/internal/app/biome"
	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/world"
	"pokemeetup-server/internal/platform/mq"
)

var (
	ErrWorldNotFound    = errors.New("world not found")
	ErrWorldUnavailable = errors.New("world unavailable")
	ErrCorruptChunk     = errors.New("corrupt chunk file")
)

const (
	worldBackups  = 5
	playerBackups = 3
)

// Repository is the only writer of durable world state.
type Repository struct {
	logger   zerolog.Logger
	dataDir  string
	dir      string
	name     string
	cache    *redis.Client
	cacheTTL time.Duration
	pub      mq.Publisher
	now      func() time.Time

	worldMu  deadlock.Mutex
	playerMu deadlock.Mutex
	blocks   *blockIndex
}

func New(logger zerolog.Logger, dataDir, worldName string, cache *redis.Client, cacheTTL time.Duration, pub mq.Publisher) *Repository {
	dir := filepath.Join(dataDir, "worlds", worldName)
	return &Repository{
		logger:   logger.With().Str("component", "storage").Str("world", worldName).Logger(),
		dataDir:  dataDir,
		dir:      dir,
		name:     worldName,
		cache:    cache,
		cacheTTL: cacheTTL,
		pub:      pub,
		now:      time.Now,
		blocks:   newBlockIndex(filepath.Join(dir, "blocks.json")),
	}
}

// Init creates the world directory tree. Failure means the data directory
// is unwritable.
func (r *Repository) Init() error {
	for _, d := range []string{
		r.dir,
		filepath.Join(r.dir, "backups"),
		filepath.Join(r.dir, "players", "backups"),
		filepath.Join(r.dir, "chunks"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

func (r *Repository) Dir() string { return r.dir }

func (r *Repository) worldPath() string { return filepath.Join(r.dir, "world.json") }

// LoadWorld reads the world snapshot. A corrupt snapshot falls back to the
// newest readable backup; if none can be read the world is unavailable.
func (r *Repository) LoadWorld(ctx context.Context) (*world.Snapshot, error) {
	r.worldMu.Lock()
	defer r.worldMu.Unlock()
	return r.loadWorldLocked(ctx)
}

func (r *Repository) loadWorldLocked(_ context.Context) (*world.Snapshot, error) {
	snap, err := readSnapshot(r.worldPath())
	if err == nil {
		return snap, nil
	}
	backups, _ := listBackups(filepath.Join(r.dir, "backups"), "world")
	if os.IsNotExist(err) && len(backups) == 0 {
		return nil, ErrWorldNotFound
	}
	r.logger.Error().Err(err).Msg("world snapshot unreadable; trying backups")
	for _, name := range backups {
		snap, berr := readSnapshot(filepath.Join(r.dir, "backups", name))
		if berr == nil {
			r.logger.Warn().Str("backup", name).Msg("restored world from backup")
			return snap, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrWorldUnavailable, err)
}

func readSnapshot(path string) (*world.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap world.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// LoadOrCreateWorld loads the named world, creating it only when no
// snapshot or backup exists.
func (r *Repository) LoadOrCreateWorld(ctx context.Context, seed int64, dayLength float64) (*world.Snapshot, bool, error) {
	r.worldMu.Lock()
	defer r.worldMu.Unlock()

	snap, err := r.loadWorldLocked(ctx)
	switch {
	case err == nil:
		return snap, false, nil
	case !errors.Is(err, ErrWorldNotFound):
		return nil, false, err
	}

	if seed == 0 {
		seed = r.now().UnixNano()
	}
	snap = world.NewSnapshot(r.name, seed, dayLength)
	snap.LastPlayed = r.now().UnixMilli()
	if err := r.saveWorldLocked(ctx, snap); err != nil {
		return nil, false, fmt.Errorf("create world: %w", err)
	}
	r.logger.Info().Int64("seed", seed).Msg("created new world")
	return snap, true, nil
}

// SaveWorld backs up the previous snapshot and writes the new one.
func (r *Repository) SaveWorld(ctx context.Context, snap *world.Snapshot) error {
	r.worldMu.Lock()
	defer r.worldMu.Unlock()
	return r.saveWorldLocked(ctx, snap)
}

func (r *Repository) saveWorldLocked(ctx context.Context, snap *world.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	if err := backupFile(r.worldPath(), filepath.Join(r.dir, "backups"), "world", r.now(), worldBackups); err != nil {
		return fmt.Errorf("backup world: %w", err)
	}
	if err := writeFileAtomic(r.worldPath(), b); err != nil {
		return fmt.Errorf("write world: %w", err)
	}
	if err := mq.PublishJSON(ctx, r.pub, mq.SubjectWorldSaved, map[string]any{
		"world":   snap.Name,
		"players": len(snap.Players),
		"at":      r.now().UnixMilli(),
	}); err != nil {
		r.logger.Warn().Err(err).Msg("publish world saved")
	}
	return nil
}

func (r *Repository) playerPath(id uuid.UUID) string {
	return filepath.Join(r.dir, "players", id.String()+".json")
}

func (r *Repository) playerCacheKey(id uuid.UUID) string {
	return "pokemeetup:" + r.name + ":player:" + id.String()
}

// LoadPlayer reads a player snapshot, preferring the Redis copy.
func (r *Repository) LoadPlayer(ctx context.Context, id uuid.UUID) (*player.State, bool, error) {
	key := r.playerCacheKey(id)
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key).Bytes()
		if err == nil {
			var st player.State
			if uErr := json.Unmarshal(cached, &st); uErr == nil {
				return &st, true, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.logger.Debug().Err(err).Msg("player cache read failed")
		}
	}

	b, err := os.ReadFile(r.playerPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read player %s: %w", id, err)
	}
	var st player.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, false, fmt.Errorf("decode player %s: %w", id, err)
	}
	r.cachePlayer(ctx, key, b)
	return &st, true, nil
}

// SavePlayer backs up and rewrites a player snapshot and refreshes the
// cached copy.
func (r *Repository) SavePlayer(ctx context.Context, st *player.State) error {
	r.playerMu.Lock()
	defer r.playerMu.Unlock()

	st.LastSaved = r.now().UnixMilli()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode player %s: %w", st.Username, err)
	}
	path := r.playerPath(st.ID)
	if err := backupFile(path, filepath.Join(r.dir, "players", "backups"), st.ID.String(), r.now(), playerBackups); err != nil {
		return fmt.Errorf("backup player %s: %w", st.Username, err)
	}
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("write player %s: %w", st.Username, err)
	}
	r.cachePlayer(ctx, r.playerCacheKey(st.ID), b)
	return nil
}

func (r *Repository) cachePlayer(ctx context.Context, key string, b []byte) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, b, r.cacheTTL).Err(); err != nil {
		r.logger.Debug().Err(err).Msg("player cache write failed")
	}
}

// LoadBiomes reads biome definitions from the data directory, writing the
// defaults when the file is missing and filling in any missing biomes.
func (r *Repository) LoadBiomes(_ context.Context) (biome.Definitions, error) {
	path := filepath.Join(r.dataDir, "biomes.json")
	defaults := biome.DefaultDefinitions()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		out, mErr := json.MarshalIndent(defaults, "", "  ")
		if mErr != nil {
			return nil, fmt.Errorf("encode default biomes: %w", mErr)
		}
		if wErr := writeFileAtomic(path, out); wErr != nil {
			return nil, wErr
		}
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read biomes: %w", err)
	}
	var defs biome.Definitions
	if err := json.Unmarshal(b, &defs); err != nil {
		return nil, fmt.Errorf("decode biomes: %w", err)
	}
	if added := defs.Merge(defaults); len(added) > 0 {
		r.logger.Warn().Interface("biomes", added).Msg("biome definitions missing; using defaults")
	}
	if err := defs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid biomes.json: %w", err)
	}
	return defs, nil
}
