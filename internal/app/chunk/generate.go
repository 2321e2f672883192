package chunk

import (
	"math/rand"
	"sort"

	"github.com/oklog/ulid/v2"

	"pokemeetup-server/internal/app/biome"
	"pokemeetup-server/internal/domain/world"
)

const (
	smoothBand = 2

	treeDensity  = 0.5
	otherDensity = 0.1

	pokeballAttempts = 10
	pokeballChance   = 0.1
	pokeballMax      = 2
)

// Seed derives the generation seed of a chunk from the world seed.
func Seed(worldSeed int64, c world.ChunkCoord) int64 {
	return worldSeed + (int64(c.X)<<32 | int64(c.Y)&0xffffffff)
}

// Generate builds a chunk from scratch. The result depends only on the
// field's seed, the definitions and c.
func Generate(field *biome.Field, defs biome.Definitions, c world.ChunkCoord) *world.Chunk {
	blends := field.ChunkBlends(c)
	ch := &world.Chunk{
		Coord:          c,
		GenerationSeed: Seed(field.Seed(), c),
		Tiles:          world.NewTileGrid(),
		Biomes:         biomeMatrix(blends),
		Blocks:         make(map[string]*world.Block),
	}
	for lx := 0; lx < world.ChunkSize; lx++ {
		for ly := 0; ly < world.ChunkSize; ly++ {
			tx, ty := c.X*world.ChunkSize+lx, c.Y*world.ChunkSize+ly
			ch.Tiles[lx][ly] = field.PickTile(defs, blends[lx+1][ly+1], tx, ty)
		}
	}
	summarize(ch, blends)
	ch.Dirty = smoothEdges(field, defs, ch, blends)

	rng := rand.New(rand.NewSource(ch.GenerationSeed))
	ch.Objects = populate(defs, ch, rng)
	return ch
}

func biomeMatrix(blends [][]biome.Blend) [][]world.BiomeType {
	m := make([][]world.BiomeType, len(blends))
	for x := range blends {
		m[x] = make([]world.BiomeType, len(blends[x]))
		for y := range blends[x] {
			m[x][y] = blends[x][y].Primary
		}
	}
	return m
}

// summarize picks the chunk-wide primary and secondary biome by tile count.
func summarize(ch *world.Chunk, blends [][]biome.Blend) {
	primary := map[world.BiomeType]int{}
	secondary := map[world.BiomeType]int{}
	for lx := 1; lx <= world.ChunkSize; lx++ {
		for ly := 1; ly <= world.ChunkSize; ly++ {
			b := blends[lx][ly]
			primary[b.Primary]++
			if b.Secondary != "" {
				secondary[b.Secondary]++
			}
		}
	}
	ch.Biome = dominant(primary, "")
	ch.SecondaryBiome = dominant(secondary, ch.Biome)

	var total float64
	n := 0
	for lx := 1; lx <= world.ChunkSize; lx++ {
		for ly := 1; ly <= world.ChunkSize; ly++ {
			if b := blends[lx][ly]; b.Primary == ch.Biome {
				total += b.Factor
				n++
			}
		}
	}
	if n > 0 && ch.SecondaryBiome != "" {
		ch.TransitionFactor = total / float64(n)
	}
}

func dominant(counts map[world.BiomeType]int, exclude world.BiomeType) world.BiomeType {
	var best world.BiomeType
	bestN := 0
	for b, n := range counts {
		if b == exclude {
			continue
		}
		if n > bestN || (n == bestN && b < best) {
			best, bestN = b, n
		}
	}
	return best
}

// smoothEdges rewrites the band of tiles along each seam where this chunk's
// edge biome differs from the tile across the seam. The tile across is read
// from the blend border, so the result does not depend on which neighbors
// happen to be loaded.
func smoothEdges(field *biome.Field, defs biome.Definitions, ch *world.Chunk, blends [][]biome.Blend) bool {
	changed := false
	n := world.ChunkSize
	for lx := 0; lx < n; lx++ {
		for ly := 0; ly < n; ly++ {
			own, across, ok := seam(blends, lx, ly)
			if !ok {
				continue
			}
			tx, ty := ch.Coord.X*n+lx, ch.Coord.Y*n+ly
			if id := field.BoundaryTile(defs, own, across, tx, ty); id != ch.Tiles[lx][ly] {
				ch.Tiles[lx][ly] = id
				changed = true
			}
		}
	}
	return changed
}

// seam returns the first seam (west, east, north, south) whose band covers
// the local tile and whose two edge tiles differ in biome.
func seam(blends [][]biome.Blend, lx, ly int) (biome.Blend, biome.Blend, bool) {
	n := world.ChunkSize
	pairs := [4]struct {
		in      bool
		own, at biome.Blend
	}{
		{lx < smoothBand, blends[1][ly+1], blends[0][ly+1]},
		{lx >= n-smoothBand, blends[n][ly+1], blends[n+1][ly+1]},
		{ly < smoothBand, blends[lx+1][1], blends[lx+1][0]},
		{ly >= n-smoothBand, blends[lx+1][n], blends[lx+1][n+1]},
	}
	for _, p := range pairs {
		if !p.in || p.own.Primary == p.at.Primary {
			continue
		}
		if p.own.Primary == world.BiomeOcean || p.at.Primary == world.BiomeOcean {
			continue
		}
		return p.own, p.at, true
	}
	return biome.Blend{}, biome.Blend{}, false
}

func populate(defs biome.Definitions, ch *world.Chunk, rng *rand.Rand) []*world.WorldObject {
	def := defs.Get(ch.Biome)
	ms := uint64(ch.GenerationSeed) & 0xFFFFFFFFFFFF
	occupied := map[[2]int]bool{}
	var out []*world.WorldObject

	place := func(typ world.ObjectType, lx, ly int) {
		out = append(out, &world.WorldObject{
			ID:    ulid.MustNew(ms, rng).String(),
			Type:  typ,
			TileX: ch.Coord.X*world.ChunkSize + lx,
			TileY: ch.Coord.Y*world.ChunkSize + ly,
		})
		occupied[[2]int{lx, ly}] = true
	}

	types := append([]world.ObjectType(nil), def.SpawnableObjects...)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, typ := range types {
		density, spacing := otherDensity, 1
		if typ.IsTree() {
			density, spacing = treeDensity, 2
		}
		attempts := int(float64(world.ChunkSize*world.ChunkSize) * def.SpawnChances[typ] * density)
		for i := 0; i < attempts; i++ {
			lx, ly := rng.Intn(world.ChunkSize), rng.Intn(world.ChunkSize)
			if canPlace(ch, def.Type, lx, ly, spacing, occupied) {
				place(typ, lx, ly)
			}
		}
	}

	balls := 0
	for i := 0; i < pokeballAttempts && balls < pokeballMax; i++ {
		if rng.Float64() >= pokeballChance {
			continue
		}
		lx, ly := rng.Intn(world.ChunkSize), rng.Intn(world.ChunkSize)
		if canPlace(ch, def.Type, lx, ly, 0, occupied) {
			place(world.ObjectPokeball, lx, ly)
			balls++
		}
	}
	return out
}

func canPlace(ch *world.Chunk, biomeType world.BiomeType, lx, ly, spacing int, occupied map[[2]int]bool) bool {
	tile := ch.Tiles[lx][ly]
	if !world.IsPassableTile(tile) {
		return false
	}
	switch ch.TileBiome(lx, ly) {
	case world.BiomeOcean:
		return false
	case world.BiomeBeach:
		if biomeType != world.BiomeBeach {
			return false
		}
	}
	for dx := -spacing; dx <= spacing; dx++ {
		for dy := -spacing; dy <= spacing; dy++ {
			if occupied[[2]int{lx + dx, ly + dy}] {
				return false
			}
		}
	}
	return true
}
