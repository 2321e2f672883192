package world

import "math"

const (
	ChunkSize = 16
	TileSize  = 32
)

// Tile ids shared with the client.
const (
	TileWater               = 0
	TileGrass               = 1
	TileSand                = 2
	TileRock                = 3
	TileSnow                = 4
	TileHauntedGrass        = 5
	TileSnowTallGrass       = 6
	TileHauntedTallGrass    = 7
	TileHauntedShroom       = 8
	TileHauntedShrooms      = 9
	TileTallGrass           = 10
	TileForestGrass         = 11
	TileForestTallGrass     = 12
	TileRainForestGrass     = 13
	TileRainForestTallGrass = 14
	TileDesertSand          = 15
	TileDesertRocks         = 16
	TileDesertGrass         = 17
	TileFlower1             = 18
	TileFlower2             = 19
	TileFlower              = 20
	TileRuinsGrass          = 53
	TileRuinsBricks         = 56
	TileSnowyGrass          = 219
	TileBeachSand           = 220
	TileBeachGrass          = 221
	TileBeachGrass2         = 222
	TileBeachStarfish       = 223
	TileBeachShell          = 224
)

func IsPassableTile(id int) bool {
	switch id {
	case TileWater, TileRock:
		return false
	}
	return true
}

func IsBeachTile(id int) bool {
	return id >= TileBeachSand && id <= TileBeachShell
}

type ChunkCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Less orders coordinates by X then Y.
func (c ChunkCoord) Less(o ChunkCoord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

func (c ChunkCoord) Neighbors() [4]ChunkCoord {
	return [4]ChunkCoord{
		{c.X, c.Y + 1},
		{c.X, c.Y - 1},
		{c.X + 1, c.Y},
		{c.X - 1, c.Y},
	}
}

func ChunkOfTile(tileX, tileY int) ChunkCoord {
	return ChunkCoord{X: floorDiv(tileX, ChunkSize), Y: floorDiv(tileY, ChunkSize)}
}

func ChunkOfPixel(px, py float64) ChunkCoord {
	tx, ty := TileOfPixel(px, py)
	return ChunkOfTile(tx, ty)
}

func TileOfPixel(px, py float64) (int, int) {
	return int(math.Floor(px / TileSize)), int(math.Floor(py / TileSize))
}

// LocalTile converts world tile coordinates to coordinates inside the chunk.
func LocalTile(tileX, tileY int) (int, int) {
	return tileX - floorDiv(tileX, ChunkSize)*ChunkSize, tileY - floorDiv(tileY, ChunkSize)*ChunkSize
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
