package biome

import (
	"fmt"
	"sort"

	"github.com/pixil98/go-errors"

	"pokemeetup-server/internal/domain/world"
)

// Definition is the data-file description of a biome. Distributions map
// tile ids to percentage weights summing to 100.
type Definition struct {
	Name                   string                       `json:"name"`
	Type                   world.BiomeType              `json:"type"`
	AllowedTiles           []int                        `json:"allowedTileTypes"`
	TileDistribution       map[int]int                  `json:"tileDistribution"`
	TransitionDistribution map[int]int                  `json:"transitionTileDistribution,omitempty"`
	SpawnableObjects       []world.ObjectType           `json:"spawnableObjects,omitempty"`
	SpawnChances           map[world.ObjectType]float64 `json:"spawnChances,omitempty"`
}

type Definitions map[world.BiomeType]*Definition

// Get returns the definition for b, falling back to plains.
func (d Definitions) Get(b world.BiomeType) *Definition {
	if def, ok := d[b]; ok {
		return def
	}
	if def, ok := d[world.BiomePlains]; ok {
		return def
	}
	return DefaultDefinitions()[world.BiomePlains]
}

func (d Definitions) Validate() error {
	el := errors.NewErrorList()
	for _, b := range sortedBiomes(d) {
		def := d[b]
		if def == nil {
			el.Add(fmt.Errorf("biome %s: missing definition", b))
			continue
		}
		if def.Type != b {
			el.Add(fmt.Errorf("biome %s: type field is %q", b, def.Type))
		}
		if total := sum(def.TileDistribution); total != 100 {
			el.Add(fmt.Errorf("biome %s: tile distribution sums to %d", b, total))
		}
		if len(def.TransitionDistribution) > 0 {
			if total := sum(def.TransitionDistribution); total != 100 {
				el.Add(fmt.Errorf("biome %s: transition distribution sums to %d", b, total))
			}
		}
		for obj, chance := range def.SpawnChances {
			if chance < 0 || chance > 1 {
				el.Add(fmt.Errorf("biome %s: spawn chance for %s out of range", b, obj))
			}
		}
	}
	return el.Err()
}

// Merge fills biomes missing from d with defaults and reports which were
// added.
func (d Definitions) Merge(defaults Definitions) []world.BiomeType {
	var added []world.BiomeType
	for _, b := range sortedBiomes(defaults) {
		if _, ok := d[b]; !ok {
			d[b] = defaults[b]
			added = append(added, b)
		}
	}
	return added
}

func sum(dist map[int]int) int {
	total := 0
	for _, w := range dist {
		total += w
	}
	return total
}

func sortedBiomes(d Definitions) []world.BiomeType {
	out := make([]world.BiomeType, 0, len(d))
	for b := range d {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func def(name string, b world.BiomeType, tiles, transition map[int]int, spawns map[world.ObjectType]float64) *Definition {
	d := &Definition{
		Name:                   name,
		Type:                   b,
		TileDistribution:       tiles,
		TransitionDistribution: transition,
		SpawnChances:           spawns,
	}
	for id := range tiles {
		d.AllowedTiles = append(d.AllowedTiles, id)
	}
	sort.Ints(d.AllowedTiles)
	for obj := range spawns {
		d.SpawnableObjects = append(d.SpawnableObjects, obj)
	}
	sort.Slice(d.SpawnableObjects, func(i, j int) bool { return d.SpawnableObjects[i] < d.SpawnableObjects[j] })
	return d
}

// DefaultDefinitions is written to biomes.json when the file is missing.
func DefaultDefinitions() Definitions {
	return Definitions{
		world.BiomePlains: def("Plains", world.BiomePlains,
			map[int]int{world.TileGrass: 70, world.TileTallGrass: 15, world.TileFlower: 5, world.TileFlower1: 5, world.TileFlower2: 5},
			map[int]int{world.TileGrass: 80, world.TileTallGrass: 20},
			map[world.ObjectType]float64{world.ObjectTree0: 0.08, world.ObjectBush: 0.1, world.ObjectSunflower: 0.1, world.ObjectRock: 0.05}),
		world.BiomeForest: def("Forest", world.BiomeForest,
			map[int]int{world.TileForestGrass: 70, world.TileForestTallGrass: 25, world.TileGrass: 5},
			map[int]int{world.TileForestGrass: 60, world.TileGrass: 40},
			map[world.ObjectType]float64{world.ObjectTree1: 0.2, world.ObjectTree0: 0.1, world.ObjectBush: 0.15, world.ObjectApricornTree: 0.03}),
		world.BiomeSnow: def("Snow", world.BiomeSnow,
			map[int]int{world.TileSnow: 70, world.TileSnowTallGrass: 15, world.TileSnowyGrass: 15},
			map[int]int{world.TileSnowyGrass: 70, world.TileSnow: 30},
			map[world.ObjectType]float64{world.ObjectSnowTree: 0.15, world.ObjectRock: 0.1}),
		world.BiomeDesert: def("Desert", world.BiomeDesert,
			map[int]int{world.TileDesertSand: 70, world.TileDesertRocks: 15, world.TileDesertGrass: 15},
			map[int]int{world.TileDesertGrass: 60, world.TileDesertSand: 40},
			map[world.ObjectType]float64{world.ObjectCactus: 0.2, world.ObjectDeadTree: 0.05, world.ObjectRock: 0.1}),
		world.BiomeHaunted: def("Haunted", world.BiomeHaunted,
			map[int]int{world.TileHauntedGrass: 65, world.TileHauntedTallGrass: 20, world.TileHauntedShroom: 10, world.TileHauntedShrooms: 5},
			map[int]int{world.TileHauntedGrass: 80, world.TileHauntedTallGrass: 20},
			map[world.ObjectType]float64{world.ObjectHauntedTree: 0.18, world.ObjectDeadTree: 0.08}),
		world.BiomeRainForest: def("Rain Forest", world.BiomeRainForest,
			map[int]int{world.TileRainForestGrass: 70, world.TileRainForestTallGrass: 30},
			map[int]int{world.TileRainForestGrass: 80, world.TileForestGrass: 20},
			map[world.ObjectType]float64{world.ObjectRainTree: 0.22, world.ObjectVines: 0.15, world.ObjectBush: 0.1}),
		world.BiomeRuins: def("Ruins", world.BiomeRuins,
			map[int]int{world.TileRuinsGrass: 60, world.TileRuinsBricks: 30, world.TileGrass: 10},
			map[int]int{world.TileRuinsGrass: 80, world.TileGrass: 20},
			map[world.ObjectType]float64{world.ObjectRuinsTree: 0.1, world.ObjectRock: 0.15}),
		world.BiomeCherryGrove: def("Cherry Grove", world.BiomeCherryGrove,
			map[int]int{world.TileGrass: 60, world.TileFlower: 20, world.TileFlower1: 10, world.TileTallGrass: 10},
			map[int]int{world.TileGrass: 70, world.TileFlower: 30},
			map[world.ObjectType]float64{world.ObjectCherryTree: 0.2, world.ObjectSunflower: 0.08}),
		world.BiomeBeach: def("Beach", world.BiomeBeach,
			map[int]int{world.TileBeachSand: 70, world.TileBeachGrass: 10, world.TileBeachGrass2: 10, world.TileBeachStarfish: 5, world.TileBeachShell: 5},
			map[int]int{world.TileBeachSand: 80, world.TileBeachGrass: 20},
			map[world.ObjectType]float64{world.ObjectRock: 0.02}),
		world.BiomeOcean: def("Ocean", world.BiomeOcean,
			map[int]int{world.TileWater: 100},
			nil,
			nil),
	}
}
