package world

import "strconv"

type ObjectType string

const (
	ObjectTree0        ObjectType = "TREE_0"
	ObjectTree1        ObjectType = "TREE_1"
	ObjectSnowTree     ObjectType = "SNOW_TREE"
	ObjectHauntedTree  ObjectType = "HAUNTED_TREE"
	ObjectRainTree     ObjectType = "RAIN_TREE"
	ObjectApricornTree ObjectType = "APRICORN_TREE"
	ObjectRuinsTree    ObjectType = "RUINS_TREE"
	ObjectCherryTree   ObjectType = "CHERRY_TREE"
	ObjectBush         ObjectType = "BUSH"
	ObjectCactus       ObjectType = "CACTUS"
	ObjectDeadTree     ObjectType = "DEAD_TREE"
	ObjectSunflower    ObjectType = "SUNFLOWER"
	ObjectVines        ObjectType = "VINES"
	ObjectRock         ObjectType = "ROCK"
	ObjectPokeball     ObjectType = "POKEBALL"
)

func (t ObjectType) IsTree() bool {
	switch t {
	case ObjectTree0, ObjectTree1, ObjectSnowTree, ObjectHauntedTree, ObjectRainTree,
		ObjectApricornTree, ObjectRuinsTree, ObjectCherryTree:
		return true
	}
	return false
}

// Choppable objects can be targeted by CHOP/PUNCH actions.
func (t ObjectType) Choppable() bool {
	return t.IsTree()
}

// WorldObject is a placed object anchored to a world tile.
type WorldObject struct {
	ID        string     `json:"id"`
	Type      ObjectType `json:"type"`
	TileX     int        `json:"tileX"`
	TileY     int        `json:"tileY"`
	SpawnTime int64      `json:"spawnTime"`
}

type ItemStack struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

type ChestData struct {
	ID    string       `json:"id"`
	Items []*ItemStack `json:"items"`
}

// Block is a player-placed block occupying one tile.
type Block struct {
	Type    string     `json:"type"`
	TileX   int        `json:"tileX"`
	TileY   int        `json:"tileY"`
	Flipped bool       `json:"isFlipped,omitempty"`
	Owner   string     `json:"owner,omitempty"`
	Chest   *ChestData `json:"chestData,omitempty"`
}

const BlockChest = "chest"

type ItemDrop struct {
	DropID   string  `json:"dropId"`
	ItemID   string  `json:"itemId"`
	ItemName string  `json:"itemName"`
	Count    int     `json:"count"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

func BlockKey(tileX, tileY int) string {
	return strconv.Itoa(tileX) + "," + strconv.Itoa(tileY)
}
