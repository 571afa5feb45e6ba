package game

import (
	"fmt"

	"skirmish/internal/game/spatial"
)

// Cell is a grid coordinate.
type Cell = spatial.Cell

// EntityID identifies a building, unit or bullet for the lifetime of a match.
// IDs are never reused, so a stale handle can only miss, never alias.
type EntityID uint32

// Faction is one of the two competing sides.
type Faction uint8

const (
	FactionNone Faction = iota // draw / no owner
	FactionPlayer
	FactionOpponent
)

// factionCount sizes per-faction arrays (index 0 is FactionNone).
const factionCount = 3

// Factions lists the playable factions in a stable order.
var Factions = [...]Faction{FactionPlayer, FactionOpponent}

func (f Faction) String() string {
	switch f {
	case FactionPlayer:
		return "player"
	case FactionOpponent:
		return "opponent"
	default:
		return "none"
	}
}

// Enemy returns the opposing faction.
func (f Faction) Enemy() Faction {
	switch f {
	case FactionPlayer:
		return FactionOpponent
	case FactionOpponent:
		return FactionPlayer
	default:
		return FactionNone
	}
}

// Valid reports whether f is a playable faction.
func (f Faction) Valid() bool {
	return f == FactionPlayer || f == FactionOpponent
}

func (f Faction) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Faction) UnmarshalText(text []byte) error {
	v, err := ParseFaction(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFaction accepts "player" or "opponent" ("ai" is kept as an alias).
func ParseFaction(s string) (Faction, error) {
	switch s {
	case "player":
		return FactionPlayer, nil
	case "opponent", "ai":
		return FactionOpponent, nil
	case "none", "":
		return FactionNone, nil
	}
	return FactionNone, fmt.Errorf("unknown faction %q", s)
}

// BuildingType enumerates the structures that can exist on the grid.
type BuildingType uint8

const (
	BuildingStronghold BuildingType = iota
	BuildingIncome
	BuildingTankNest
	BuildingBarracks
	BuildingDronePad
	BuildingSpiderDen
	BuildingTurret

	buildingTypeCount
)

var buildingNames = [buildingTypeCount]string{
	BuildingStronghold: "stronghold",
	BuildingIncome:     "income",
	BuildingTankNest:   "tank-nest",
	BuildingBarracks:   "soldier-barracks",
	BuildingDronePad:   "drone-pad",
	BuildingSpiderDen:  "spider-den",
	BuildingTurret:     "turret",
}

// AllBuildingTypes lists building types in declaration order.
func AllBuildingTypes() []BuildingType {
	out := make([]BuildingType, 0, buildingTypeCount)
	for t := BuildingType(0); t < buildingTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t BuildingType) String() string {
	if t < buildingTypeCount {
		return buildingNames[t]
	}
	return fmt.Sprintf("building(%d)", uint8(t))
}

// Valid reports whether t is a known building type.
func (t BuildingType) Valid() bool {
	return t < buildingTypeCount
}

func (t BuildingType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *BuildingType) UnmarshalText(text []byte) error {
	v, err := ParseBuildingType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseBuildingType maps a building name to its type. Legacy client names
// ("castle", "windmill", "defense", and unit names for their producers) are
// accepted as aliases.
func ParseBuildingType(s string) (BuildingType, error) {
	for t, name := range buildingNames {
		if name == s {
			return BuildingType(t), nil
		}
	}
	switch s {
	case "castle":
		return BuildingStronghold, nil
	case "windmill":
		return BuildingIncome, nil
	case "defense":
		return BuildingTurret, nil
	case "tank":
		return BuildingTankNest, nil
	case "soldier":
		return BuildingBarracks, nil
	case "drone":
		return BuildingDronePad, nil
	case "spider":
		return BuildingSpiderDen, nil
	}
	return 0, fmt.Errorf("unknown building type %q", s)
}

// UnitType enumerates mobile combatants.
type UnitType uint8

const (
	UnitTank UnitType = iota
	UnitSoldier
	UnitDrone
	UnitSpider

	unitTypeCount
)

var unitNames = [unitTypeCount]string{
	UnitTank:    "tank",
	UnitSoldier: "soldier",
	UnitDrone:   "drone",
	UnitSpider:  "spider",
}

// AllUnitTypes lists unit types in declaration order.
func AllUnitTypes() []UnitType {
	out := make([]UnitType, 0, unitTypeCount)
	for t := UnitType(0); t < unitTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t UnitType) String() string {
	if t < unitTypeCount {
		return unitNames[t]
	}
	return fmt.Sprintf("unit(%d)", uint8(t))
}

func (t UnitType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *UnitType) UnmarshalText(text []byte) error {
	v, err := ParseUnitType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseUnitType maps a unit name to its type.
func ParseUnitType(s string) (UnitType, error) {
	for t, name := range unitNames {
		if name == s {
			return UnitType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown unit type %q", s)
}

// TargetKind discriminates what a TargetRef points at.
type TargetKind uint8

const (
	TargetBuilding TargetKind = iota + 1
	TargetUnit
)

func (k TargetKind) String() string {
	switch k {
	case TargetBuilding:
		return "building"
	case TargetUnit:
		return "unit"
	default:
		return "none"
	}
}

func (k TargetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TargetRef is a non-owning handle to a building or unit. It is resolved
// through the World on every use; the World is the sole owner of entities.
// It doubles as the occupant handle stored in the occupancy grid.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   EntityID   `json:"id"`
}

func (r TargetRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// IsZero reports whether r points at nothing.
func (r TargetRef) IsZero() bool {
	return r.Kind == 0
}
