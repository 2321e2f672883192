package player

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"pokemeetup-server/internal/domain/world"
)

const (
	InventorySlots = 27
	PartySlots     = 6

	MaxStack = 64

	DefaultX         = 0.0
	DefaultY         = 0.0
	DefaultDirection = "down"
	DefaultCharacter = "boy"
)

// namespace for deterministic player ids derived from usernames.
var namespace = uuid.MustParse("6f1c1f5e-8f0a-4b8e-9a43-6d7b1c0e2a91")

// IDFor returns the stable identifier of a username.
func IDFor(username string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(strings.ToLower(username)))
}

type Creature struct {
	UUID      uuid.UUID `json:"uuid"`
	Species   string    `json:"name"`
	Nickname  string    `json:"nickname,omitempty"`
	Level     int       `json:"level"`
	CurrentHP int       `json:"currentHp"`
	MaxHP     int       `json:"maxHp"`
	Moves     []string  `json:"moves,omitempty"`
}

// State is the durable snapshot of a player. X and Y are pixels.
type State struct {
	ID            uuid.UUID          `json:"id"`
	Username      string             `json:"username"`
	X             float64            `json:"x"`
	Y             float64            `json:"y"`
	Direction     string             `json:"direction"`
	IsMoving      bool               `json:"isMoving"`
	WantsToRun    bool               `json:"wantsToRun"`
	CharacterType string             `json:"characterType"`
	Inventory     []*world.ItemStack `json:"inventoryItems"`
	Party         []*Creature        `json:"partyPokemon"`
	LastSaved     int64              `json:"lastSaved,omitempty"`
}

func New(username string) *State {
	return &State{
		ID:            IDFor(username),
		Username:      username,
		X:             DefaultX,
		Y:             DefaultY,
		Direction:     DefaultDirection,
		CharacterType: DefaultCharacter,
		Inventory:     make([]*world.ItemStack, InventorySlots),
		Party:         make([]*Creature, PartySlots),
	}
}

func ValidDirection(d string) bool {
	switch d {
	case "up", "down", "left", "right":
		return true
	}
	return false
}

// Repair fixes corrupted fields in place and reports what it changed.
func (s *State) Repair() []string {
	var fixed []string
	if !finite(s.X) || !finite(s.Y) {
		s.X, s.Y = DefaultX, DefaultY
		fixed = append(fixed, "position")
	}
	if !ValidDirection(s.Direction) {
		s.Direction = DefaultDirection
		fixed = append(fixed, "direction")
	}
	if s.CharacterType == "" {
		s.CharacterType = DefaultCharacter
		fixed = append(fixed, "characterType")
	}
	if s.ID == uuid.Nil && s.Username != "" {
		s.ID = IDFor(s.Username)
		fixed = append(fixed, "id")
	}
	if len(s.Inventory) != InventorySlots {
		inv := make([]*world.ItemStack, InventorySlots)
		copy(inv, s.Inventory)
		s.Inventory = inv
		fixed = append(fixed, "inventory")
	}
	for i, it := range s.Inventory {
		if it != nil && (it.Count <= 0 || it.ItemID == "") {
			s.Inventory[i] = nil
			fixed = append(fixed, "inventory")
		}
	}
	if len(s.Party) != PartySlots {
		party := make([]*Creature, PartySlots)
		copy(party, s.Party)
		s.Party = party
		fixed = append(fixed, "party")
	}
	return fixed
}

// AddItem stacks count items into the inventory, filling existing stacks of
// the same item before empty slots. It reports false and changes nothing
// when the items do not fit.
func (s *State) AddItem(itemID, name string, count int) bool {
	if count <= 0 || itemID == "" {
		return false
	}
	room := 0
	for _, it := range s.Inventory {
		switch {
		case it == nil:
			room += MaxStack
		case it.ItemID == itemID:
			room += MaxStack - it.Count
		}
	}
	if room < count {
		return false
	}
	for _, it := range s.Inventory {
		if count == 0 {
			break
		}
		if it != nil && it.ItemID == itemID && it.Count < MaxStack {
			n := min(count, MaxStack-it.Count)
			it.Count += n
			count -= n
		}
	}
	for i, it := range s.Inventory {
		if count == 0 {
			break
		}
		if it == nil {
			n := min(count, MaxStack)
			s.Inventory[i] = &world.ItemStack{ItemID: itemID, Name: name, Count: n}
			count -= n
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	cp := *s
	cp.Inventory = make([]*world.ItemStack, len(s.Inventory))
	for i, it := range s.Inventory {
		if it != nil {
			c := *it
			cp.Inventory[i] = &c
		}
	}
	cp.Party = make([]*Creature, len(s.Party))
	for i, p := range s.Party {
		if p != nil {
			c := *p
			c.Moves = append([]string(nil), p.Moves...)
			cp.Party[i] = &c
		}
	}
	return &cp
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
