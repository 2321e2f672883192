package protocol

import (
	"github.com/google/uuid"

	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/world"
)

type ConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

type LoginResponse struct {
	Success            bool          `json:"success"`
	Message            string        `json:"message"`
	Username           string        `json:"username,omitempty"`
	X                  float64       `json:"x"`
	Y                  float64       `json:"y"`
	Seed               int64         `json:"seed"`
	WorldTimeInMinutes float64       `json:"worldTimeInMinutes"`
	DayLength          float64       `json:"dayLength"`
	Timestamp          int64         `json:"timestamp"`
	PlayerData         *player.State `json:"playerData,omitempty"`
	Token              string        `json:"token,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ChunkRequest struct {
	ChunkX int `json:"chunkX"`
	ChunkY int `json:"chunkY"`
}

type ChunkData struct {
	ChunkX                int                  `json:"chunkX"`
	ChunkY                int                  `json:"chunkY"`
	BiomeType             world.BiomeType      `json:"biomeType"`
	PrimaryBiomeType      world.BiomeType      `json:"primaryBiomeType"`
	SecondaryBiomeType    world.BiomeType      `json:"secondaryBiomeType,omitempty"`
	BiomeTransitionFactor float64              `json:"biomeTransitionFactor"`
	TileData              [][]int              `json:"tileData"`
	BlockData             []*world.Block       `json:"blockData"`
	WorldObjects          []*world.WorldObject `json:"worldObjects"`
	GenerationSeed        int64                `json:"generationSeed"`
	Timestamp             int64                `json:"timestamp"`
}

type PlayerUpdate struct {
	Username       string             `json:"username"`
	X              float64            `json:"x"`
	Y              float64            `json:"y"`
	Direction      string             `json:"direction"`
	IsMoving       bool               `json:"isMoving"`
	WantsToRun     bool               `json:"wantsToRun"`
	CharacterType  string             `json:"characterType,omitempty"`
	InventoryItems []*world.ItemStack `json:"inventoryItems,omitempty"`
	PartyPokemon   []*player.Creature `json:"partyPokemon,omitempty"`
	Timestamp      int64              `json:"timestamp"`
}

type PlayerPositionsUpdate struct {
	Players   []PlayerUpdate `json:"players"`
	Timestamp int64          `json:"timestamp"`
}

type PlayerJoined struct {
	Username  string  `json:"username"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
	Timestamp int64   `json:"timestamp"`
}

type PlayerLeft struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type PlayerListEntry struct {
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Ping     int64   `json:"ping"`
}

type PlayerList struct {
	Players   []PlayerListEntry `json:"players"`
	Timestamp int64             `json:"timestamp"`
}

const (
	ChatNormal = "NORMAL"
	ChatSystem = "SYSTEM"
)

type ChatMessage struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

const (
	ActionChopStart  = "CHOP_START"
	ActionChopStop   = "CHOP_STOP"
	ActionPunchStart = "PUNCH_START"
	ActionPunchStop  = "PUNCH_STOP"
)

type TilePos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type PlayerAction struct {
	PlayerID       string   `json:"playerId"`
	ActionType     string   `json:"actionType"`
	TargetPosition *TilePos `json:"targetPosition,omitempty"`
}

const (
	BlockPlace  = "PLACE"
	BlockRemove = "REMOVE"
)

type BlockPlacement struct {
	Username    string `json:"username"`
	Action      string `json:"action"`
	BlockTypeID string `json:"blockTypeId"`
	TileX       int    `json:"tileX"`
	TileY       int    `json:"tileY"`
	IsFlipped   bool   `json:"isFlipped,omitempty"`
}

const (
	ObjectAdd    = "ADD"
	ObjectRemove = "REMOVE"
	ObjectUpdate = "UPDATE"
)

type WorldObjectUpdate struct {
	ObjectID string         `json:"objectId"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
}

type WildPokemonSpawn struct {
	UUID      uuid.UUID           `json:"uuid"`
	X         float64             `json:"x"`
	Y         float64             `json:"y"`
	Data      *world.WildCreature `json:"data"`
	Timestamp int64               `json:"timestamp"`
}

type WildPokemonDespawn struct {
	UUID      uuid.UUID `json:"uuid"`
	Timestamp int64     `json:"timestamp"`
}

type PokemonUpdate struct {
	UUID      uuid.UUID `json:"uuid"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Direction string    `json:"direction"`
	IsMoving  bool      `json:"isMoving"`
	Level     int       `json:"level"`
	Timestamp int64     `json:"timestamp"`
}

type PokemonBatchUpdate struct {
	Updates []PokemonUpdate `json:"updates"`
}

type ServerInfoRequest struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type ServerInfo struct {
	Name        string `json:"name"`
	MOTD        string `json:"motd"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	Version     string `json:"version"`
	IconBase64  string `json:"iconBase64,omitempty"`
}

type ServerInfoResponse struct {
	ServerInfo ServerInfo `json:"serverInfo"`
	Timestamp  int64      `json:"timestamp"`
}

type ForceDisconnect struct {
	Reason string `json:"reason"`
}

type ServerShutdown struct {
	Reason string `json:"reason"`
}

type Logout struct {
	Username string `json:"username"`
}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type PingResponse struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

type ItemDrop struct {
	world.ItemDrop
	Timestamp int64 `json:"timestamp"`
}

type ItemPickup struct {
	DropID   string `json:"dropId"`
	Username string `json:"username"`
}

type ChestUpdate struct {
	ChestID  string             `json:"chestId"`
	Username string             `json:"username"`
	TileX    int                `json:"tileX"`
	TileY    int                `json:"tileY"`
	Items    []*world.ItemStack `json:"items"`
}

type WorldStateUpdate struct {
	Seed               int64   `json:"seed"`
	WorldTimeInMinutes float64 `json:"worldTimeInMinutes"`
	DayLength          float64 `json:"dayLength"`
	PlayedTime         float64 `json:"playedTime"`
	Weather            string  `json:"weather"`
	Temperature        float64 `json:"temperature"`
	Timestamp          int64   `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}
