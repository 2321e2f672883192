package chunk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"pokemeetup-server/internal/app/biome"
	"pokemeetup-server/internal/domain/world"
	"pokemeetup-server/internal/platform/keylock"
)

// Persister is the durable side of the store.
type Persister interface {
	LoadChunk(ctx context.Context, c world.ChunkCoord) (*world.Chunk, bool, error)
	SaveChunk(ctx context.Context, ch *world.Chunk) error
}

type entry struct {
	chunk      *world.Chunk
	lastAccess time.Time
	version    uint64
	saved      uint64
}

// Store owns every loaded chunk and the objects placed in it. All chunk
// contents are guarded by mu; callers only ever see clones.
type Store struct {
	logger zerolog.Logger
	field  *biome.Field
	defs   biome.Definitions
	repo   Persister
	now    func() time.Time

	mu       deadlock.RWMutex
	chunks   map[world.ChunkCoord]*entry
	inflight map[world.ChunkCoord]chan struct{}
	objects  map[string]world.ChunkCoord
	targets  map[string]Target
	holders  map[string]string

	chests *keylock.Map
}

func New(logger zerolog.Logger, field *biome.Field, defs biome.Definitions, repo Persister) *Store {
	if defs == nil {
		defs = biome.DefaultDefinitions()
	}
	return &Store{
		logger:   logger.With().Str("component", "chunk").Logger(),
		field:    field,
		defs:     defs,
		repo:     repo,
		now:      time.Now,
		chunks:   make(map[world.ChunkCoord]*entry),
		inflight: make(map[world.ChunkCoord]chan struct{}),
		objects:  make(map[string]world.ChunkCoord),
		targets:  make(map[string]Target),
		holders:  make(map[string]string),
		chests:   keylock.New(),
	}
}

func (s *Store) Field() *biome.Field { return s.field }

func (s *Store) Definitions() biome.Definitions { return s.defs }

// GetOrGenerate returns the chunk at c, loading or generating it on first
// use. Later calls return the cached chunk until it is evicted.
func (s *Store) GetOrGenerate(ctx context.Context, c world.ChunkCoord) (*world.Chunk, error) {
	e, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.chunk.Clone(), nil
}

// load makes sure c is resident. Concurrent callers for the same chunk wait
// for a single materialization.
func (s *Store) load(ctx context.Context, c world.ChunkCoord) (*entry, error) {
	for {
		s.mu.Lock()
		if e, ok := s.chunks[c]; ok {
			e.lastAccess = s.now()
			s.mu.Unlock()
			return e, nil
		}
		if wait, ok := s.inflight[c]; ok {
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		s.inflight[c] = done
		s.mu.Unlock()

		ch := s.materialize(ctx, c)

		s.mu.Lock()
		e := &entry{chunk: ch, lastAccess: s.now()}
		if ch.Dirty {
			e.version = 1
		}
		s.chunks[c] = e
		for _, o := range ch.Objects {
			s.objects[o.ID] = c
		}
		delete(s.inflight, c)
		close(done)
		s.mu.Unlock()
		return e, nil
	}
}

func (s *Store) materialize(ctx context.Context, c world.ChunkCoord) *world.Chunk {
	if s.repo != nil {
		ch, found, err := s.repo.LoadChunk(ctx, c)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Int("chunk_x", c.X).Int("chunk_y", c.Y).Msg("chunk load failed; regenerating")
		case found:
			s.restore(ch, c)
			return ch
		}
	}
	start := s.now()
	ch := Generate(s.field, s.defs, c)
	s.logger.Debug().
		Int("chunk_x", c.X).
		Int("chunk_y", c.Y).
		Str("biome", string(ch.Biome)).
		Int("objects", len(ch.Objects)).
		Dur("took", s.now().Sub(start)).
		Msg("chunk generated")
	return ch
}

// restore fills the derived fields a saved chunk does not carry.
func (s *Store) restore(ch *world.Chunk, c world.ChunkCoord) {
	ch.Coord = c
	if len(ch.Tiles) != world.ChunkSize {
		ch.Tiles = Generate(s.field, s.defs, c).Tiles
		ch.Dirty = true
	}
	if len(ch.Biomes) != world.ChunkSize+2 {
		blends := s.field.ChunkBlends(c)
		ch.Biomes = biomeMatrix(blends)
	}
	if ch.Blocks == nil {
		ch.Blocks = make(map[string]*world.Block)
	}
	kept := ch.Objects[:0]
	for _, o := range ch.Objects {
		if o != nil && o.ID != "" {
			kept = append(kept, o)
		}
	}
	ch.Objects = kept
}

func (s *Store) markDirty(e *entry) {
	e.version++
	e.chunk.Dirty = true
}

// Loaded lists resident chunks in coordinate order.
func (s *Store) Loaded() []world.ChunkCoord {
	s.mu.RLock()
	out := make([]world.ChunkCoord, 0, len(s.chunks))
	for c := range s.chunks {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (s *Store) DirtyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.chunks {
		if e.version != e.saved {
			n++
		}
	}
	return n
}

type pendingSave struct {
	coord   world.ChunkCoord
	chunk   *world.Chunk
	version uint64
}

// SaveDirty writes every modified chunk. A chunk stays dirty if its write
// fails or it changed while being written.
func (s *Store) SaveDirty(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	s.mu.RLock()
	var pending []pendingSave
	for c, e := range s.chunks {
		if e.version != e.saved {
			pending = append(pending, pendingSave{coord: c, chunk: e.chunk.Clone(), version: e.version})
		}
	}
	s.mu.RUnlock()

	el := errors.NewErrorList()
	saved := 0
	for _, p := range pending {
		if err := s.repo.SaveChunk(ctx, p.chunk); err != nil {
			el.Add(fmt.Errorf("save chunk %d,%d: %w", p.coord.X, p.coord.Y, err))
			continue
		}
		saved++
		s.mu.Lock()
		if e, ok := s.chunks[p.coord]; ok && e.saved < p.version {
			e.saved = p.version
			if e.version == e.saved {
				e.chunk.Dirty = false
			}
		}
		s.mu.Unlock()
	}
	return saved, el.Err()
}

// Evict saves and drops chunks idle for longer than idle. Chunks in keep are
// never dropped.
func (s *Store) Evict(ctx context.Context, idle time.Duration, keep map[world.ChunkCoord]bool) (int, error) {
	_, saveErr := s.SaveDirty(ctx)

	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	var dropped []world.ChunkCoord
	for c, e := range s.chunks {
		if keep[c] || e.lastAccess.After(cutoff) || e.version != e.saved {
			continue
		}
		for _, o := range e.chunk.Objects {
			delete(s.objects, o.ID)
			s.dropHolderLocked(o.ID)
		}
		for key := range e.chunk.Blocks {
			s.dropHolderLocked(blockTargetKey(key))
		}
		delete(s.chunks, c)
		dropped = append(dropped, c)
	}
	s.mu.Unlock()

	for _, c := range dropped {
		s.field.Forget(c)
	}
	if len(dropped) > 0 {
		s.logger.Debug().Int("chunks", len(dropped)).Msg("evicted idle chunks")
	}
	return len(dropped), saveErr
}

func (s *Store) dropHolderLocked(key string) {
	if user, ok := s.holders[key]; ok {
		delete(s.holders, key)
		delete(s.targets, user)
	}
}

// TileInfo returns the tile id and biome of a world tile in a resident chunk.
func (s *Store) TileInfo(tileX, tileY int) (int, world.BiomeType, bool) {
	c := world.ChunkOfTile(tileX, tileY)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chunks[c]
	if !ok {
		return 0, "", false
	}
	lx, ly := world.LocalTile(tileX, tileY)
	return e.chunk.Tiles[lx][ly], e.chunk.TileBiome(lx, ly), true
}

// Walkable reports whether a resident tile is passable and free of blocks
// and objects.
func (s *Store) Walkable(tileX, tileY int) bool {
	c := world.ChunkOfTile(tileX, tileY)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chunks[c]
	if !ok {
		return false
	}
	lx, ly := world.LocalTile(tileX, tileY)
	if !world.IsPassableTile(e.chunk.Tiles[lx][ly]) {
		return false
	}
	if _, ok := e.chunk.Blocks[world.BlockKey(tileX, tileY)]; ok {
		return false
	}
	return objectOnTile(e.chunk, tileX, tileY) == nil
}

func objectOnTile(ch *world.Chunk, tileX, tileY int) *world.WorldObject {
	for _, o := range ch.Objects {
		if o.TileX == tileX && o.TileY == tileY {
			return o
		}
	}
	return nil
}
