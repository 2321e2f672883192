package biome

import (
	"testing"

	"github.com/pixil98/go-testutil"

	"pokemeetup-server/internal/domain/world"
)

func TestDefaultDefinitionsValid(t *testing.T) {
	defs := DefaultDefinitions()
	if err := defs.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, b := range append(append([]world.BiomeType(nil), world.LandBiomes...), world.BiomeBeach, world.BiomeOcean) {
		if _, ok := defs[b]; !ok {
			t.Fatalf("missing default for %s", b)
		}
	}
}

func TestValidateRejectsBadDistribution(t *testing.T) {
	defs := DefaultDefinitions()
	defs[world.BiomeSnow].TileDistribution = map[int]int{world.TileSnow: 50}
	if err := defs.Validate(); err == nil {
		t.Fatal("expected distribution error")
	}
}

func TestMergeFillsMissing(t *testing.T) {
	defs := Definitions{world.BiomePlains: DefaultDefinitions()[world.BiomePlains]}
	added := defs.Merge(DefaultDefinitions())
	testutil.AssertEqual(t, "added", len(added), len(DefaultDefinitions())-1)
	testutil.AssertEqual(t, "get unknown falls back", defs.Get("VOLCANO").Type, world.BiomePlains)
}

func TestWeightedPick(t *testing.T) {
	dist := map[int]int{1: 70, 2: 20, 3: 10}
	testutil.AssertEqual(t, "low roll", Weighted(dist, 0), 1)
	testutil.AssertEqual(t, "mid roll", Weighted(dist, 0.75), 2)
	testutil.AssertEqual(t, "high roll", Weighted(dist, 0.95), 3)
	testutil.AssertEqual(t, "empty", Weighted(nil, 0.5), 0)
}

func TestPickTileStaysInDistributions(t *testing.T) {
	f := New(11)
	defs := DefaultDefinitions()
	b := Blend{Primary: world.BiomeDesert, Secondary: world.BiomePlains, Factor: 0.4}
	allowed := map[int]bool{}
	for id := range defs[world.BiomeDesert].TileDistribution {
		allowed[id] = true
	}
	for id := range defs[world.BiomePlains].TransitionDistribution {
		allowed[id] = true
	}
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			id := f.PickTile(defs, b, x, y)
			if !allowed[id] {
				t.Fatalf("tile %d not in either distribution", id)
			}
			testutil.AssertEqual(t, "repeatable", f.PickTile(defs, b, x, y), id)
		}
	}
}

func TestRollRange(t *testing.T) {
	for i := -50; i < 50; i++ {
		r := Roll(99, i, -i*3, saltTile)
		if r < 0 || r >= 1 {
			t.Fatalf("roll %v out of range", r)
		}
	}
	if Roll(99, 1, 2, saltTile) == Roll(99, 2, 1, saltTile) {
		t.Fatal("expected roll to depend on coordinate order")
	}
}
