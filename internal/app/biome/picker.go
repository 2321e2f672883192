package biome

import "sort"

const (
	saltTile uint64 = iota + 1
	saltBlend
	saltSmooth
)

// Weighted picks a tile id from a percentage distribution. roll is in [0,1).
// Keys are walked in ascending order so equal rolls give equal tiles.
func Weighted(dist map[int]int, roll float64) int {
	if len(dist) == 0 {
		return 0
	}
	keys := make([]int, 0, len(dist))
	total := 0
	for id, w := range dist {
		if w <= 0 {
			continue
		}
		keys = append(keys, id)
		total += w
	}
	if total == 0 {
		return 0
	}
	sort.Ints(keys)
	target := roll * float64(total)
	acc := 0.0
	for _, id := range keys {
		acc += float64(dist[id])
		if target < acc {
			return id
		}
	}
	return keys[len(keys)-1]
}

// PickTile chooses the tile for a world tile from its blend. The secondary
// biome's transition distribution wins with probability equal to the blend
// factor.
func (f *Field) PickTile(defs Definitions, b Blend, tileX, tileY int) int {
	if b.Secondary != "" && b.Factor > 0 && Roll(f.seed, tileX, tileY, saltBlend) < b.Factor {
		return Weighted(transitionOrTiles(defs.Get(b.Secondary)), Roll(f.seed, tileX, tileY, saltTile))
	}
	return Weighted(defs.Get(b.Primary).TileDistribution, Roll(f.seed, tileX, tileY, saltTile))
}

// BoundaryTile picks from the even mix of two biomes' transition
// distributions. Used when smoothing chunk seams.
func (f *Field) BoundaryTile(defs Definitions, a, b Blend, tileX, tileY int) int {
	mixed := make(map[int]int)
	for id, w := range transitionOrTiles(defs.Get(a.Primary)) {
		mixed[id] += w
	}
	for id, w := range transitionOrTiles(defs.Get(b.Primary)) {
		mixed[id] += w
	}
	return Weighted(mixed, Roll(f.seed, tileX, tileY, saltSmooth))
}

func transitionOrTiles(d *Definition) map[int]int {
	if len(d.TransitionDistribution) > 0 {
		return d.TransitionDistribution
	}
	return d.TileDistribution
}
