package biome

import (
	"math"

	"github.com/ojrac/opensimplex-go"
)

// noise2 is a seeded OpenSimplex field sampled in [0,1].
type noise2 struct {
	n opensimplex.Noise
}

func newNoise(seed int64) noise2 {
	return noise2{n: opensimplex.NewNormalized(seed)}
}

func (n noise2) at(x, y float64) float64 {
	return clamp01(n.n.Eval2(x, y))
}

// signed samples the field in [-1,1].
func (n noise2) signed(x, y float64) float64 {
	return n.at(x, y)*2 - 1
}

// fbm sums octaves of the field, halving amplitude and doubling frequency
// each time. The result is normalized back into [0,1].
func (n noise2) fbm(x, y, scale float64, octaves int) float64 {
	var sum, norm float64
	amp, freq := 1.0, scale
	for i := 0; i < octaves; i++ {
		sum += amp * n.at(x*freq+float64(i)*97.13, y*freq-float64(i)*53.71)
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	return sum / norm
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func smoothstep(t float64) float64 {
	t = clamp01(t)
	return t * t * (3 - 2*t)
}

// mix64 is a splitmix64 finalizer used for per-tile rolls.
func mix64(v uint64) uint64 {
	v += 0x9e3779b97f4a7c15
	v = (v ^ (v >> 30)) * 0xbf58476d1ce4e5b9
	v = (v ^ (v >> 27)) * 0x94d049bb133111eb
	return v ^ (v >> 31)
}

// Roll returns a reproducible value in [0,1) for a world tile. salt
// separates independent uses of the same tile.
func Roll(seed int64, tileX, tileY int, salt uint64) float64 {
	h := mix64(uint64(seed) ^ mix64(uint64(int64(tileX))<<1^salt) ^ mix64(uint64(int64(tileY))+salt*0x632be59bd9b4e019))
	return float64(h>>11) / float64(1<<53)
}
