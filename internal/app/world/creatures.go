package world

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"pokemeetup-server/internal/domain/protocol"
	domainworld "pokemeetup-server/internal/domain/world"
)

const (
	spawnChance     = 0.4
	wanderChance    = 0.05
	levelVariance   = 2.0
	levelScale      = domainworld.TileSize * 50
	creatureSpeed   = 2 * domainworld.TileSize // pixels per second
	updateThreshold = domainworld.TileSize
)

type spawnTable struct {
	day   []string
	night []string
}

var spawnTables = map[domainworld.BiomeType]spawnTable{
	domainworld.BiomePlains: {
		day:   []string{"Rattata", "Pidgey", "Sentret", "Hoppip", "Sunkern", "Caterpie", "Weedle", "Oddish", "Bellsprout", "Zigzagoon", "Spinarak"},
		night: []string{"Zubat", "Hoothoot", "Rattata", "Caterpie", "Weedle", "Hoppip", "Sunkern", "Spinarak", "Skitty"},
	},
	domainworld.BiomeForest: {
		day:   []string{"Caterpie", "Weedle", "Oddish", "Bellsprout", "Treecko", "Shroomish", "Seedot", "Lotad", "Nincada", "Poochyena", "Hoppip", "Sunkern"},
		night: []string{"Hoothoot", "Caterpie", "Weedle", "Oddish", "Bellsprout", "Treecko", "Shroomish", "Seedot", "Lotad", "Poochyena", "Hoppip", "Nincada"},
	},
	domainworld.BiomeSnow: {
		day:   []string{"Swinub", "Snorunt", "Snover", "Spheal", "Cubchoo", "Sneasel", "Vanillite", "Snom"},
		night: []string{"Swinub", "Snorunt", "Snover", "Spheal", "Cubchoo", "Sneasel", "Vanillite", "Snom"},
	},
	domainworld.BiomeDesert: {
		day:   []string{"Sandshrew", "Trapinch", "Cacnea", "Sandile", "Diglett", "Vulpix", "Ekans", "Spinarak", "Poochyena"},
		night: []string{"Sandshrew", "Trapinch", "Cacnea", "Sandile", "Diglett", "Vulpix", "Ekans", "Zubat", "Spinarak"},
	},
	domainworld.BiomeHaunted: {
		day:   []string{"Gastly", "Misdreavus", "Shuppet", "Duskull", "Sableye", "Litwick", "Murkrow", "Yamask"},
		night: []string{"Gastly", "Misdreavus", "Shuppet", "Duskull", "Sableye", "Litwick", "Murkrow", "Yamask"},
	},
	domainworld.BiomeRainForest: {
		day:   []string{"Treecko", "Mudkip", "Torchic", "Lotad", "Seedot", "Shroomish", "Sunkern", "Hoppip", "Caterpie", "Weedle", "Nincada", "Poochyena"},
		night: []string{"Treecko", "Mudkip", "Torchic", "Lotad", "Seedot", "Shroomish", "Sunkern", "Hoppip", "Caterpie", "Weedle", "Nincada", "Poochyena"},
	},
	domainworld.BiomeRuins: {
		day:   []string{"Zubat", "Geodude", "Kabuto", "Omanyte", "Aerodactyl", "Rattata", "Gastly", "Onix", "Abra", "Cubone"},
		night: []string{"Zubat", "Geodude", "Kabuto", "Omanyte", "Aerodactyl", "Rattata", "Gastly", "Onix", "Abra", "Cubone"},
	},
}

func pickSpecies(b domainworld.BiomeType, night bool, rng *rand.Rand) string {
	table, ok := spawnTables[b]
	if !ok {
		table = spawnTables[domainworld.BiomePlains]
	}
	options := table.day
	if night {
		options = table.night
	}
	return options[rng.Intn(len(options))]
}

// levelFor grows with distance from the origin, with a little noise.
func levelFor(x, y float64, rng *rand.Rand) int {
	base := 2 + mgl64.Vec2{x, y}.Len()/levelScale
	v := base + (rng.Float64()*2-1)*levelVariance
	return int(math.Round(mgl64.Clamp(v, 1, 100)))
}

type creature struct {
	domainworld.WildCreature
	chunk   domainworld.ChunkCoord
	targetX float64
	targetY float64

	sent       bool
	sentX      float64
	sentY      float64
	sentDir    string
	sentMoving bool
}

type creatures struct {
	mu          deadlock.Mutex
	active      map[uuid.UUID]*creature
	rng         *rand.Rand
	ttl         time.Duration
	maxPerChunk int
	lastStep    time.Time
}

func newCreatures(seed int64, ttl time.Duration, maxPerChunk int) *creatures {
	return &creatures{
		active:      make(map[uuid.UUID]*creature),
		rng:         rand.New(rand.NewSource(seed ^ time.Now().UnixNano())),
		ttl:         ttl,
		maxPerChunk: maxPerChunk,
	}
}

func (c *creatures) countIn(ch domainworld.ChunkCoord) int {
	n := 0
	for _, cr := range c.active {
		if cr.chunk == ch {
			n++
		}
	}
	return n
}

// expire removes every creature past its lifetime and returns their ids.
func (c *creatures) expire(now time.Time) []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var gone []uuid.UUID
	for id, cr := range c.active {
		if c.ttl > 0 && cr.Expired(now, c.ttl) {
			delete(c.active, id)
			gone = append(gone, id)
		}
	}
	return gone
}

func (c *creatures) snapshot(ts int64) []protocol.PokemonUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.PokemonUpdate, 0, len(c.active))
	for _, cr := range c.active {
		out = append(out, cr.update(ts))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID.String() < out[j].UUID.String() })
	return out
}

func (c *creatures) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (cr *creature) update(ts int64) protocol.PokemonUpdate {
	return protocol.PokemonUpdate{
		UUID:      cr.UUID,
		X:         cr.X,
		Y:         cr.Y,
		Direction: cr.Direction,
		IsMoving:  cr.Moving,
		Level:     cr.Level,
		Timestamp: ts,
	}
}

// step advances every creature's wandering and returns the updates worth
// sending: those that moved more than a tile since the last report or
// changed direction or moving state.
func (c *creatures) step(now time.Time, walkable func(tx, ty int) bool) []protocol.PokemonUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	dt := 0.0
	if !c.lastStep.IsZero() {
		dt = now.Sub(c.lastStep).Seconds()
	}
	c.lastStep = now

	var updates []protocol.PokemonUpdate
	for _, cr := range c.active {
		if cr.Moving {
			c.advance(cr, dt)
		} else if c.rng.Float64() < wanderChance {
			c.wander(cr, walkable)
		}
		moved := mgl64.Vec2{cr.X, cr.Y}.Sub(mgl64.Vec2{cr.sentX, cr.sentY}).Len()
		if !cr.sent || moved > updateThreshold || cr.Direction != cr.sentDir || cr.Moving != cr.sentMoving {
			cr.sent = true
			cr.sentX, cr.sentY = cr.X, cr.Y
			cr.sentDir, cr.sentMoving = cr.Direction, cr.Moving
			updates = append(updates, cr.update(now.UnixMilli()))
		}
	}
	return updates
}

var directions = [4]struct {
	name   string
	dx, dy int
}{
	{"up", 0, 1},
	{"down", 0, -1},
	{"left", -1, 0},
	{"right", 1, 0},
}

func (c *creatures) wander(cr *creature, walkable func(tx, ty int) bool) {
	d := directions[c.rng.Intn(len(directions))]
	tx, ty := domainworld.TileOfPixel(cr.X, cr.Y)
	nx, ny := tx+d.dx, ty+d.dy
	cr.Direction = d.name
	if !walkable(nx, ny) {
		return
	}
	cr.targetX = float64(nx) * domainworld.TileSize
	cr.targetY = float64(ny) * domainworld.TileSize
	cr.Moving = true
}

func (c *creatures) advance(cr *creature, dt float64) {
	delta := mgl64.Vec2{cr.targetX - cr.X, cr.targetY - cr.Y}
	dist := delta.Len()
	stepLen := creatureSpeed * dt
	if dist <= stepLen || dist == 0 {
		cr.X, cr.Y = cr.targetX, cr.targetY
		cr.Moving = false
	} else {
		move := delta.Mul(stepLen / dist)
		cr.X += move.X()
		cr.Y += move.Y()
	}
	cr.chunk = domainworld.ChunkOfPixel(cr.X, cr.Y)
}

// spawnTick expires old creatures and rolls a spawn in every chunk a player
// is standing in.
func (s *Service) spawnTick(_ context.Context) {
	now := s.now()
	for _, id := range s.creatures.expire(now) {
		s.broadcast(protocol.TypeWildPokemonDespawn, protocol.WildPokemonDespawn{UUID: id, Timestamp: now.UnixMilli()})
	}

	s.mu.RLock()
	night := s.snap.IsNight()
	s.mu.RUnlock()

	for _, c := range s.occupiedChunks() {
		if cr := s.trySpawn(c, night, now); cr != nil {
			s.broadcast(protocol.TypeWildPokemonSpawn, protocol.WildPokemonSpawn{
				UUID:      cr.UUID,
				X:         cr.X,
				Y:         cr.Y,
				Data:      cr,
				Timestamp: now.UnixMilli(),
			})
		}
	}
}

func (s *Service) trySpawn(c domainworld.ChunkCoord, night bool, now time.Time) *domainworld.WildCreature {
	cs := s.creatures
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.countIn(c) >= cs.maxPerChunk || cs.rng.Float64() >= spawnChance {
		return nil
	}
	tx := c.X*domainworld.ChunkSize + cs.rng.Intn(domainworld.ChunkSize)
	ty := c.Y*domainworld.ChunkSize + cs.rng.Intn(domainworld.ChunkSize)
	if !s.chunks.Walkable(tx, ty) {
		return nil
	}
	_, b, ok := s.chunks.TileInfo(tx, ty)
	if !ok {
		return nil
	}
	px := float64(tx) * domainworld.TileSize
	py := float64(ty) * domainworld.TileSize
	cr := &creature{
		WildCreature: domainworld.WildCreature{
			UUID:      uuid.New(),
			Species:   pickSpecies(b, night, cs.rng),
			Level:     levelFor(px, py, cs.rng),
			X:         px,
			Y:         py,
			Direction: "down",
			Biome:     b,
			SpawnedAt: now,
		},
		chunk: c,
	}
	cs.active[cr.UUID] = cr
	wc := cr.WildCreature
	return &wc
}

func (s *Service) occupiedChunks() []domainworld.ChunkCoord {
	s.mu.RLock()
	seen := make(map[domainworld.ChunkCoord]bool, len(s.players))
	for _, rt := range s.players {
		seen[rt.chunk] = true
	}
	s.mu.RUnlock()
	out := make([]domainworld.ChunkCoord, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
