package world

// Chunk is a ChunkSize x ChunkSize tile region. Tiles and Biomes are
// indexed [x][y]; Biomes carries a one-tile border on every side.
type Chunk struct {
	Coord            ChunkCoord        `json:"coord"`
	Biome            BiomeType         `json:"biomeType"`
	SecondaryBiome   BiomeType         `json:"secondaryBiomeType,omitempty"`
	TransitionFactor float64           `json:"biomeTransitionFactor"`
	GenerationSeed   int64             `json:"generationSeed"`
	Tiles            [][]int           `json:"tileData"`
	Biomes           [][]BiomeType     `json:"biomeMatrix,omitempty"`
	Objects          []*WorldObject    `json:"worldObjects"`
	Blocks           map[string]*Block `json:"blocks,omitempty"`
	Dirty            bool              `json:"-"`
}

func NewTileGrid() [][]int {
	g := make([][]int, ChunkSize)
	for x := range g {
		g[x] = make([]int, ChunkSize)
	}
	return g
}

// TileBiome returns the cached biome for a local tile.
func (c *Chunk) TileBiome(lx, ly int) BiomeType {
	if len(c.Biomes) == ChunkSize+2 {
		return c.Biomes[lx+1][ly+1]
	}
	return c.Biome
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.Tiles = make([][]int, len(c.Tiles))
	for x := range c.Tiles {
		cp.Tiles[x] = append([]int(nil), c.Tiles[x]...)
	}
	if c.Biomes != nil {
		cp.Biomes = make([][]BiomeType, len(c.Biomes))
		for x := range c.Biomes {
			cp.Biomes[x] = append([]BiomeType(nil), c.Biomes[x]...)
		}
	}
	cp.Objects = make([]*WorldObject, 0, len(c.Objects))
	for _, o := range c.Objects {
		oc := *o
		cp.Objects = append(cp.Objects, &oc)
	}
	if c.Blocks != nil {
		cp.Blocks = make(map[string]*Block, len(c.Blocks))
		for k, b := range c.Blocks {
			bc := *b
			if b.Chest != nil {
				chest := *b.Chest
				chest.Items = append([]*ItemStack(nil), b.Chest.Items...)
				bc.Chest = &chest
			}
			cp.Blocks[k] = &bc
		}
	}
	return &cp
}
