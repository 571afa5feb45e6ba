package game

import "time"

// Building is a static structure occupying one cell.
// Timestamps are match-elapsed times, sampled from the engine clock.
type Building struct {
	ID    EntityID
	Cell  Cell
	Type  BuildingType
	Owner Faction
	HP    int
	MaxHP int

	LastSpawn  time.Duration
	LastIncome time.Duration
	LastFire   time.Duration
}

// Ref returns the handle used for targeting and occupancy.
func (b *Building) Ref() TargetRef {
	return TargetRef{Kind: TargetBuilding, ID: b.ID}
}

// Unit is a mobile combatant occupying one cell.
type Unit struct {
	ID    EntityID
	Cell  Cell
	Type  UnitType
	Owner Faction
	HP    int
	MaxHP int

	// Home is the building that spawned this unit. It is informational only;
	// the unit lives on independently once created.
	Home EntityID

	Progress float64 // fraction of a step accumulated toward the next move
	LastFire time.Duration
}

// Ref returns the handle used for targeting and occupancy.
func (u *Unit) Ref() TargetRef {
	return TargetRef{Kind: TargetUnit, ID: u.ID}
}

// Bullet is a homing projectile in pixel space. It never owns its target.
type Bullet struct {
	ID     EntityID
	X, Y   float64
	Target TargetRef
	Owner  Faction
	Damage int
}
