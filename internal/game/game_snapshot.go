package game

import (
	"time"
)

// BuildingSnapshot is an immutable copy of building state for rendering
// Uses value types (not pointers) to ensure immutability
type BuildingSnapshot struct {
	ID    EntityID     `json:"id"`
	Type  BuildingType `json:"type"`
	Owner Faction      `json:"owner"`
	X     int          `json:"x"`
	Y     int          `json:"y"`
	HP    int          `json:"hp"`
	MaxHP int          `json:"maxHp"`
}

// UnitSnapshot is an immutable copy of unit state for rendering
type UnitSnapshot struct {
	ID    EntityID `json:"id"`
	Type  UnitType `json:"type"`
	Owner Faction  `json:"owner"`
	X     int      `json:"x"`
	Y     int      `json:"y"`
	HP    int      `json:"hp"`
	MaxHP int      `json:"maxHp"`
}

// BulletSnapshot is an immutable bullet in pixel space
type BulletSnapshot struct {
	ID    EntityID `json:"id"`
	Owner Faction  `json:"owner"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
}

// GameSnapshot is a complete immutable game state for rendering.
// A fresh snapshot is built every tick and published atomically, so readers
// may hold on to one for as long as they like.
type GameSnapshot struct {
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	TickNumber uint64    `json:"tick"`

	Cols     int     `json:"cols"`
	Rows     int     `json:"rows"`
	TileSize float64 `json:"tileSize"`

	Buildings []BuildingSnapshot `json:"buildings"`
	Units     []UnitSnapshot     `json:"units"`
	Bullets   []BulletSnapshot   `json:"bullets"`

	Status MatchStatus `json:"status"`
}

// snapshot copies the world into a new GameSnapshot. Entities with
// health <= 0 never reach a snapshot because they are removed on the hit
// that kills them.
func (w *World) snapshot() *GameSnapshot {
	snap := &GameSnapshot{
		Cols:      w.rules.Cols,
		Rows:      w.rules.Rows,
		TileSize:  w.rules.TileSize,
		Buildings: make([]BuildingSnapshot, 0, len(w.buildings)),
		Units:     make([]UnitSnapshot, 0, len(w.units)),
		Bullets:   make([]BulletSnapshot, 0, len(w.bullets)),
	}
	for _, b := range w.buildings {
		snap.Buildings = append(snap.Buildings, buildingSnapshot(b))
	}
	for _, u := range w.units {
		snap.Units = append(snap.Units, UnitSnapshot{
			ID: u.ID, Type: u.Type, Owner: u.Owner,
			X: u.Cell.X, Y: u.Cell.Y,
			HP: u.HP, MaxHP: u.MaxHP,
		})
	}
	for _, bl := range w.bullets {
		snap.Bullets = append(snap.Bullets, BulletSnapshot{
			ID: bl.ID, Owner: bl.Owner, X: bl.X, Y: bl.Y,
		})
	}
	return snap
}
