package world

import (
	"math"

	"github.com/google/uuid"
)

const (
	MinutesPerDay    = 1440.0
	DefaultDayLength = 10.0
)

// Snapshot is the durable state of a named world. DayLength is the number
// of real minutes a full in-game day takes.
type Snapshot struct {
	Name               string               `json:"name"`
	Seed               int64                `json:"seed"`
	DayLength          float64              `json:"dayLength"`
	WorldTimeInMinutes float64              `json:"worldTimeInMinutes"`
	PlayedTime         float64              `json:"playedTime"`
	LastPlayed         int64                `json:"lastPlayed"`
	Weather            string               `json:"weather"`
	Players            map[string]uuid.UUID `json:"players"`
}

func NewSnapshot(name string, seed int64, dayLength float64) *Snapshot {
	if dayLength <= 0 {
		dayLength = DefaultDayLength
	}
	return &Snapshot{
		Name:               name,
		Seed:               seed,
		DayLength:          dayLength,
		WorldTimeInMinutes: 480,
		Weather:            "clear",
		Players:            make(map[string]uuid.UUID),
	}
}

// AdvanceTime moves the clock forward by the given real seconds.
func (s *Snapshot) AdvanceTime(seconds float64) {
	if seconds <= 0 {
		return
	}
	perSecond := MinutesPerDay / (s.DayLength * 60)
	s.WorldTimeInMinutes = math.Mod(s.WorldTimeInMinutes+seconds*perSecond, MinutesPerDay)
	if s.WorldTimeInMinutes < 0 {
		s.WorldTimeInMinutes += MinutesPerDay
	}
	s.PlayedTime += seconds
}

// IsNight reports whether the clock is outside 06:00-18:00. Spawn tables
// switch on it.
func (s *Snapshot) IsNight() bool {
	return s.WorldTimeInMinutes >= 18*60 || s.WorldTimeInMinutes < 6*60
}

// Repair fixes corrupted fields in place and reports what it changed.
func (s *Snapshot) Repair() []string {
	var fixed []string
	if s.DayLength <= 0 || math.IsNaN(s.DayLength) || math.IsInf(s.DayLength, 0) {
		s.DayLength = DefaultDayLength
		fixed = append(fixed, "dayLength")
	}
	t := s.WorldTimeInMinutes
	if math.IsNaN(t) || math.IsInf(t, 0) {
		s.WorldTimeInMinutes = 480
		fixed = append(fixed, "worldTimeInMinutes")
	} else if t < 0 || t >= MinutesPerDay {
		s.WorldTimeInMinutes = math.Mod(math.Mod(t, MinutesPerDay)+MinutesPerDay, MinutesPerDay)
		fixed = append(fixed, "worldTimeInMinutes")
	}
	if math.IsNaN(s.PlayedTime) || s.PlayedTime < 0 {
		s.PlayedTime = 0
		fixed = append(fixed, "playedTime")
	}
	if s.Players == nil {
		s.Players = make(map[string]uuid.UUID)
		fixed = append(fixed, "players")
	}
	if s.Weather == "" {
		s.Weather = "clear"
	}
	return fixed
}
