package biome

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"pokemeetup-server/internal/domain/world"
)

// Generation tables are in world pixels.
const (
	WorldRadius = 100000.0

	clusterCount     = 12
	clusterMinRadius = 8000.0
	clusterMaxRadius = 20000.0
	siteCount        = 256
	islandCount      = 10
	islandMinRadius  = 6000.0
	islandMaxRadius  = 16000.0
	centralRadius    = 16000.0

	islandExpand    = 1.3
	islandDistort   = 0.1
	beachBandFactor = 0.1

	warpScale1    = 1.0 / 6000
	warpStrength1 = 800.0
	warpScale2    = 1.0 / 1500
	warpStrength2 = 200.0

	climateScale  = 1.0 / 30000
	altitudeScale = 1.0 / 12000

	coldThreshold = 0.35
	hotThreshold  = 0.65
	dryThreshold  = 0.35
	wetThreshold  = 0.65
)

type Archetype int

const (
	HotDry Archetype = iota
	HotWet
	ColdDry
	ColdWet
	Temperate
	Mystical
)

func (a Archetype) bias() (temp, moist float64) {
	switch a {
	case HotDry:
		return 0.25, -0.25
	case HotWet:
		return 0.25, 0.25
	case ColdDry:
		return -0.25, -0.25
	case ColdWet:
		return -0.25, 0.25
	}
	return 0, 0
}

type Cluster struct {
	Center    mgl64.Vec2
	Radius    float64
	Archetype Archetype
}

type Site struct {
	Pos         mgl64.Vec2
	TempOffset  float64
	MoistOffset float64
	Cluster     int
	Biome       world.BiomeType
}

type Island struct {
	Center mgl64.Vec2
	Radius float64
	salt   float64
}

// Blend is a classified world position. Factor is the weight of Secondary;
// Primary carries 1-Factor.
type Blend struct {
	Primary   world.BiomeType `json:"primary"`
	Secondary world.BiomeType `json:"secondary,omitempty"`
	Factor    float64         `json:"factor"`
}

func (b Blend) Weights() (primary, secondary float64) {
	return 1 - b.Factor, b.Factor
}

// Field maps world positions to biome blends for one seed. Its tables are
// built once in New and only read afterwards.
type Field struct {
	seed int64

	temperature noise2
	moisture    noise2
	altitude    noise2
	variety     noise2
	warp1       noise2
	warp2       noise2
	shore       noise2

	clusters []Cluster
	sites    []Site
	islands  []Island

	mu     sync.Mutex
	chunks map[world.ChunkCoord][][]Blend
}

func New(seed int64) *Field {
	f := &Field{
		seed:        seed,
		temperature: newNoise(seed),
		moisture:    newNoise(seed + 1),
		altitude:    newNoise(seed + 2),
		variety:     newNoise(seed + 3),
		warp1:       newNoise(seed + 4),
		warp2:       newNoise(seed + 5),
		shore:       newNoise(seed + 6),
		chunks:      make(map[world.ChunkCoord][][]Blend),
	}
	rng := rand.New(rand.NewSource(seed))
	f.placeClusters(rng)
	f.placeSites(rng)
	f.placeIslands(rng)
	return f
}

func (f *Field) Seed() int64 { return f.seed }

func (f *Field) Clusters() []Cluster { return append([]Cluster(nil), f.clusters...) }
func (f *Field) Sites() []Site       { return append([]Site(nil), f.sites...) }
func (f *Field) Islands() []Island   { return append([]Island(nil), f.islands...) }

func randomInDisk(rng *rand.Rand, radius float64) mgl64.Vec2 {
	r := radius * math.Sqrt(rng.Float64())
	a := rng.Float64() * 2 * math.Pi
	return mgl64.Vec2{r * math.Cos(a), r * math.Sin(a)}
}

func (f *Field) placeClusters(rng *rand.Rand) {
	f.clusters = make([]Cluster, clusterCount)
	for i := range f.clusters {
		f.clusters[i] = Cluster{
			Center:    randomInDisk(rng, WorldRadius),
			Radius:    clusterMinRadius + rng.Float64()*(clusterMaxRadius-clusterMinRadius),
			Archetype: Archetype(i % 6),
		}
	}
}

func (f *Field) placeSites(rng *rand.Rand) {
	f.sites = make([]Site, siteCount)
	for i := range f.sites {
		pos := randomInDisk(rng, WorldRadius)
		nearest, best := 0, math.MaxFloat64
		for ci, c := range f.clusters {
			if d := pos.Sub(c.Center).Len(); d < best {
				nearest, best = ci, d
			}
		}
		c := f.clusters[nearest]
		influence := math.Min(1, c.Radius/math.Max(best, 1))
		tb, mb := c.Archetype.bias()
		s := Site{
			Pos:         pos,
			TempOffset:  tb*influence + (rng.Float64()-0.5)*0.1,
			MoistOffset: mb*influence + (rng.Float64()-0.5)*0.1,
			Cluster:     nearest,
		}
		s.Biome = f.classifySite(s, c.Archetype == Mystical && influence > 0.5)
		f.sites[i] = s
	}
}

func (f *Field) placeIslands(rng *rand.Rand) {
	f.islands = make([]Island, 0, islandCount+1)
	f.islands = append(f.islands, Island{Radius: centralRadius, salt: rng.Float64() * 1000})
	for i := 0; i < islandCount; i++ {
		f.islands = append(f.islands, Island{
			Center: randomInDisk(rng, WorldRadius*0.8),
			Radius: islandMinRadius + rng.Float64()*(islandMaxRadius-islandMinRadius),
			salt:   rng.Float64() * 1000,
		})
	}
}

// classifySite runs the threshold table at a site position. Altitude cools
// the temperature.
func (f *Field) classifySite(s Site, mystical bool) world.BiomeType {
	x, y := s.Pos.X(), s.Pos.Y()
	alt := f.altitude.fbm(x, y, altitudeScale, 3)
	temp := clamp01(f.temperature.fbm(x, y, climateScale, 3) + s.TempOffset - math.Max(0, alt-0.6)*0.5)
	moist := clamp01(f.moisture.fbm(x, y, climateScale, 3) + s.MoistOffset)
	variety := f.variety.at(x*climateScale*4, y*climateScale*4)

	if mystical {
		if alt > 0.5 {
			return world.BiomeRuins
		}
		return world.BiomeCherryGrove
	}
	switch {
	case temp < coldThreshold:
		if moist > wetThreshold {
			return world.BiomeSnow
		}
		if moist < dryThreshold {
			return world.BiomePlains
		}
		if variety > 0.2 {
			return world.BiomeSnow
		}
		return world.BiomeHaunted
	case temp > hotThreshold:
		if moist < dryThreshold {
			return world.BiomeDesert
		}
		if moist > wetThreshold {
			return world.BiomeRainForest
		}
		if variety > 0.5 {
			return world.BiomePlains
		}
		return world.BiomeDesert
	default:
		if moist > wetThreshold {
			if variety > 0.5 {
				return world.BiomeRainForest
			}
			return world.BiomeForest
		}
		if moist < dryThreshold {
			return world.BiomePlains
		}
		switch {
		case variety > 0.6:
			return world.BiomeForest
		case variety > 0.3:
			return world.BiomePlains
		}
		return world.BiomeHaunted
	}
}

// Warp displaces a position through two layered noise fields.
func (f *Field) Warp(x, y float64) mgl64.Vec2 {
	dx := f.warp1.signed(x*warpScale1, y*warpScale1)*warpStrength1 +
		f.warp2.signed(x*warpScale2, y*warpScale2)*warpStrength2
	dy := f.warp1.signed(x*warpScale1+5200, y*warpScale1+1300)*warpStrength1 +
		f.warp2.signed(x*warpScale2+5200, y*warpScale2+1300)*warpStrength2
	return mgl64.Vec2{x + dx, y + dy}
}

// Classify returns the blend at a world pixel position. It is a pure
// function of the seed and the position.
func (f *Field) Classify(x, y float64) Blend {
	p := f.Warp(x, y)

	isl, dist := f.closestIsland(p)
	angle := math.Atan2(p.Y()-isl.Center.Y(), p.X()-isl.Center.X())
	distort := math.Max(0, f.shore.signed(math.Cos(angle)+isl.salt, math.Sin(angle)+isl.salt))
	effective := isl.Radius*islandExpand + isl.Radius*islandExpand*islandDistort*distort
	switch {
	case dist >= effective+effective*beachBandFactor:
		return Blend{Primary: world.BiomeOcean}
	case dist >= effective:
		return Blend{Primary: world.BiomeBeach}
	}
	return f.landBlend(p)
}

// closestIsland picks the island whose edge is nearest to p.
func (f *Field) closestIsland(p mgl64.Vec2) (Island, float64) {
	best, bestEdge, bestDist := f.islands[0], math.MaxFloat64, 0.0
	for _, isl := range f.islands {
		d := p.Sub(isl.Center).Len()
		if edge := d - isl.Radius*islandExpand; edge < bestEdge {
			best, bestEdge, bestDist = isl, edge, d
		}
	}
	return best, bestDist
}

type siteDist struct {
	site *Site
	dist float64
}

func (f *Field) nearestSites(p mgl64.Vec2, n int) []siteDist {
	near := make([]siteDist, 0, n+1)
	for i := range f.sites {
		d := p.Sub(f.sites[i].Pos).Len()
		if len(near) == n && d >= near[n-1].dist {
			continue
		}
		near = append(near, siteDist{site: &f.sites[i], dist: d})
		sort.Slice(near, func(a, b int) bool { return near[a].dist < near[b].dist })
		if len(near) > n {
			near = near[:n]
		}
	}
	return near
}

func (f *Field) landBlend(p mgl64.Vec2) Blend {
	near := f.nearestSites(p, 4)
	primary := near[0]
	out := Blend{Primary: primary.site.Biome}

	var second *siteDist
	for i := 1; i < len(near); i++ {
		if near[i].site.Biome != primary.site.Biome {
			second = &near[i]
			break
		}
	}
	if second == nil {
		return out
	}

	w1 := 1 / math.Max(primary.dist, 1e-6)
	w2 := 1 / math.Max(second.dist, 1e-6)
	t := w2 / (w1 + w2)
	// t is at most 0.5; shape it over [0,0.5] with a double smoothstep.
	factor := smoothstep(smoothstep(t*2)) * 0.5

	out.Secondary = second.site.Biome
	if incompatible(out.Primary, out.Secondary) {
		out.Secondary = world.BiomePlains
	}
	out.Factor = factor
	return out
}

func incompatible(a, b world.BiomeType) bool {
	return (a == world.BiomeDesert && b == world.BiomeSnow) ||
		(a == world.BiomeSnow && b == world.BiomeDesert)
}

// ChunkBlends returns the (ChunkSize+2)^2 blend matrix of a chunk, including
// a one-tile border, indexed [x][y]. Results are cached per chunk.
func (f *Field) ChunkBlends(c world.ChunkCoord) [][]Blend {
	f.mu.Lock()
	m, ok := f.chunks[c]
	f.mu.Unlock()
	if ok {
		return m
	}

	n := world.ChunkSize + 2
	m = make([][]Blend, n)
	for lx := 0; lx < n; lx++ {
		m[lx] = make([]Blend, n)
		for ly := 0; ly < n; ly++ {
			tx := c.X*world.ChunkSize + lx - 1
			ty := c.Y*world.ChunkSize + ly - 1
			m[lx][ly] = f.Classify(float64(tx*world.TileSize), float64(ty*world.TileSize))
		}
	}

	f.mu.Lock()
	f.chunks[c] = m
	f.mu.Unlock()
	return m
}

// Forget drops a cached chunk matrix.
func (f *Field) Forget(c world.ChunkCoord) {
	f.mu.Lock()
	delete(f.chunks, c)
	f.mu.Unlock()
}
