package biome

import (
	"math"
	"testing"

	"github.com/pixil98/go-testutil"

	"pokemeetup-server/internal/domain/world"
)

func TestClassifyDeterministic(t *testing.T) {
	a := New(12345)
	b := New(12345)
	points := [][2]float64{{0, 0}, {512, -2048}, {-90000, 40000}, {33333, 77777}, {150000, 0}}
	for _, p := range points {
		first := a.Classify(p[0], p[1])
		testutil.AssertEqual(t, "same field", a.Classify(p[0], p[1]), first)
		testutil.AssertEqual(t, "fresh field", b.Classify(p[0], p[1]), first)
	}
}

func TestTablesDependOnSeed(t *testing.T) {
	a := New(1).Sites()
	b := New(2).Sites()
	if a[0].Pos == b[0].Pos {
		t.Fatal("expected different site layouts for different seeds")
	}
	testutil.AssertEqual(t, "site count", len(a), siteCount)
	testutil.AssertEqual(t, "island count", len(New(1).Islands()), islandCount+1)
}

func TestBlendWeightsSumToOne(t *testing.T) {
	f := New(42)
	for x := -40000.0; x <= 40000; x += 1733 {
		for y := -40000.0; y <= 40000; y += 1951 {
			b := f.Classify(x, y)
			if b.Factor < 0 || b.Factor > 1 {
				t.Fatalf("factor %v out of range at (%v,%v)", b.Factor, x, y)
			}
			p, s := b.Weights()
			if math.Abs(p+s-1) > 1e-9 {
				t.Fatalf("weights sum to %v at (%v,%v)", p+s, x, y)
			}
			if b.Secondary == "" && b.Factor != 0 {
				t.Fatalf("factor without secondary at (%v,%v)", x, y)
			}
		}
	}
}

func TestNoDesertSnowBlend(t *testing.T) {
	f := New(7)
	for x := -60000.0; x <= 60000; x += 997 {
		for y := -60000.0; y <= 60000; y += 1009 {
			b := f.Classify(x, y)
			if incompatible(b.Primary, b.Secondary) {
				t.Fatalf("desert blended with snow at (%v,%v): %+v", x, y, b)
			}
		}
	}
}

func TestOriginIsLand(t *testing.T) {
	for _, seed := range []int64{1, 99, 123456789} {
		b := New(seed).Classify(0, 0)
		if b.Primary == world.BiomeOcean || b.Primary == world.BiomeBeach {
			t.Fatalf("seed %d: spawn point classified %s", seed, b.Primary)
		}
	}
}

func TestFarAwayIsOcean(t *testing.T) {
	b := New(5).Classify(WorldRadius*3, WorldRadius*3)
	testutil.AssertEqual(t, "biome", b.Primary, world.BiomeOcean)
}

func TestChunkBlendsHasBorder(t *testing.T) {
	f := New(3)
	c := world.ChunkCoord{X: -1, Y: 2}
	m := f.ChunkBlends(c)
	testutil.AssertEqual(t, "columns", len(m), world.ChunkSize+2)
	testutil.AssertEqual(t, "rows", len(m[0]), world.ChunkSize+2)
	tx, ty := c.X*world.ChunkSize, c.Y*world.ChunkSize
	testutil.AssertEqual(t, "first interior tile", m[1][1], f.Classify(float64(tx*world.TileSize), float64(ty*world.TileSize)))

	f.Forget(c)
	again := f.ChunkBlends(c)
	testutil.AssertEqual(t, "regenerated corner", again[0][0], m[0][0])
}
