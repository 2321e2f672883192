package world

import (
	"time"

	"github.com/google/uuid"
)

// WildCreature is a server-spawned wandering creature. X and Y are pixels.
type WildCreature struct {
	UUID      uuid.UUID `json:"uuid"`
	Species   string    `json:"name"`
	Level     int       `json:"level"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Direction string    `json:"direction"`
	Moving    bool      `json:"isMoving"`
	Biome     BiomeType `json:"biome"`
	SpawnedAt time.Time `json:"spawnedAt"`
}

func (c *WildCreature) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.SpawnedAt) >= ttl
}
