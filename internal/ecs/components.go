package ecs

import (
	"fmt"
	"strings"
	"time"
)

// EntityID identifies an entity. IDs start at 1; zero is never issued.
type EntityID uint32

// Team is the side an entity fights for.
type Team uint8

const (
	TeamNone Team = iota
	TeamLeft
	TeamRight
)

// String returns the wire name of the team.
func (t Team) String() string {
	switch t {
	case TeamLeft:
		return "left"
	case TeamRight:
		return "right"
	default:
		return "none"
	}
}

// Opponent returns the opposing side. TeamNone has no opponent.
func (t Team) Opponent() Team {
	switch t {
	case TeamLeft:
		return TeamRight
	case TeamRight:
		return TeamLeft
	default:
		return TeamNone
	}
}

// ParseTeam resolves a wire name into a team.
func ParseTeam(value string) (Team, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "left", "l":
		return TeamLeft, true
	case "right", "r":
		return TeamRight, true
	default:
		return TeamNone, false
	}
}

// MarshalText encodes the team by name so snapshots stay readable.
func (t Team) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a team name.
func (t *Team) UnmarshalText(text []byte) error {
	if string(text) == "none" {
		*t = TeamNone
		return nil
	}
	parsed, ok := ParseTeam(string(text))
	if !ok {
		return fmt.Errorf("unknown team %q", string(text))
	}
	*t = parsed
	return nil
}

// Cell is a grid cell coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Transform is the world position and facing of an entity.
type Transform struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Facing float64 `json:"facing"`
}

// Health tracks hit points. Dead is set once HP reaches zero and stays set
// until the entity is destroyed or restored between rounds.
type Health struct {
	HP   float64 `json:"hp"`
	Max  float64 `json:"max"`
	Dead bool    `json:"dead,omitempty"`
}

// Alive reports whether the entity can still act.
func (h Health) Alive() bool {
	return !h.Dead && h.HP > 0
}

// Unit links an entity to its unit type by catalog index.
type Unit struct {
	Type int `json:"type"`
}

// Placement is the shared placement record attached to every squad member.
type Placement struct {
	PlacementID       uint32 `json:"placementId"`
	PlayerID          string `json:"playerId"`
	Team              Team   `json:"team"`
	GridX             int    `json:"gridX"`
	GridY             int    `json:"gridY"`
	Cells             []Cell `json:"cells"`
	SquadIndex        int    `json:"squadIndex"`
	UnderConstruction bool   `json:"underConstruction,omitempty"`
	Experience        int    `json:"experience,omitempty"`
	Level             int    `json:"level,omitempty"`
}

// AbilitySet lists the ability indices an entity has learned.
type AbilitySet struct {
	Abilities []int `json:"abilities"`
}

// Anchored marks entities that never move or turn (buildings, turrets).
type Anchored struct{}

// Combat carries the base attack numbers abilities scale from.
type Combat struct {
	Damage float64 `json:"damage"`
	Range  float64 `json:"range"`
	Armor  float64 `json:"armor,omitempty"`
}

// Movement holds speed and an optional move order.
type Movement struct {
	Speed    float64 `json:"speed"`
	HasOrder bool    `json:"hasOrder,omitempty"`
	OrderX   float64 `json:"orderX,omitempty"`
	OrderY   float64 `json:"orderY,omitempty"`
}

// Production is the build queue of a producing structure.
type Production struct {
	Queue []string `json:"queue"`
}

// ResourceClaim records which resource node a building harvests.
type ResourceClaim struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Construction marks a building that is still being built.
type Construction struct {
	Builder    EntityID      `json:"builder,omitempty"`
	CompleteAt time.Duration `json:"completeAt"`
}

// Home is where a unit returns between rounds.
type Home struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}
