package game

import (
	"fmt"
	"time"

	"skirmish/internal/game/spatial"
)

// ResourceLimits defines hard caps so a runaway match cannot exhaust memory.
type ResourceLimits struct {
	MaxUnits   int // live units across both factions; spawns beyond this are skipped
	MaxBullets int // live bullets; shots beyond this are skipped
}

// DefaultLimits provides production-safe default limits. A full grid is
// 24x17 = 408 cells, so the unit cap is never reached at default size.
var DefaultLimits = ResourceLimits{
	MaxUnits:   1024,
	MaxBullets: 2048,
}

// spawnOffsets is the order in which a producer looks for a free cell:
// 4-neighbours first (up, down, left, right), then diagonals.
var spawnOffsets = [...][2]int{
	{0, -1}, {0, 1}, {-1, 0}, {1, 0},
	{-1, -1}, {1, -1}, {-1, 1}, {1, 1},
}

// World is the entity model: buildings, units, bullets, the occupancy grid
// and the per-faction economy. Every creation and removal updates the
// collections and the grid together.
//
// World is not safe for concurrent use; the Engine serialises access.
type World struct {
	rules  *Rules
	limits ResourceLimits
	grid   *spatial.Occupancy[TargetRef]

	buildings   []*Building // insertion order; drives first-encountered tie-breaks
	buildingIdx map[EntityID]*Building
	units       []*Unit
	unitIdx     map[EntityID]*Unit
	bullets     []*Bullet

	coins  [factionCount]int
	scores [factionCount]int

	nextID EntityID
}

// NewWorld creates an empty world sized by rules. No strongholds are placed;
// see SetupMatch.
func NewWorld(rules *Rules, limits ResourceLimits) *World {
	if limits.MaxUnits <= 0 {
		limits.MaxUnits = DefaultLimits.MaxUnits
	}
	if limits.MaxBullets <= 0 {
		limits.MaxBullets = DefaultLimits.MaxBullets
	}
	return &World{
		rules:       rules,
		limits:      limits,
		grid:        spatial.NewOccupancy[TargetRef](rules.Cols, rules.Rows),
		buildings:   make([]*Building, 0, 32),
		buildingIdx: make(map[EntityID]*Building),
		units:       make([]*Unit, 0, 64),
		unitIdx:     make(map[EntityID]*Unit),
		bullets:     make([]*Bullet, 0, 64),
	}
}

// SetupMatch places both strongholds at their fixed corners and grants the
// starting coins.
func (w *World) SetupMatch(now time.Duration) {
	for _, f := range Factions {
		w.coins[f] = w.rules.StartingCoins
		w.addBuilding(f, BuildingStronghold, w.rules.StrongholdCell(f), now)
	}
}

// Rules returns the rule set the world was built with.
func (w *World) Rules() *Rules { return w.rules }

// Grid exposes the occupancy grid for read-only queries.
func (w *World) Grid() *spatial.Occupancy[TargetRef] { return w.grid }

// Buildings returns the live buildings in insertion order.
// The slice is owned by the world; do not modify it.
func (w *World) Buildings() []*Building { return w.buildings }

// Units returns the live units in insertion order.
func (w *World) Units() []*Unit { return w.units }

// Bullets returns the bullets in flight.
func (w *World) Bullets() []*Bullet { return w.bullets }

// Building looks up a live building.
func (w *World) Building(id EntityID) *Building { return w.buildingIdx[id] }

// Unit looks up a live unit.
func (w *World) Unit(id EntityID) *Unit { return w.unitIdx[id] }

// Coins returns the current balance of f.
func (w *World) Coins(f Faction) int { return w.coins[f] }

// Score returns the current score of f.
func (w *World) Score(f Faction) int { return w.scores[f] }

// AddCoins credits (or debits, for negative amounts) f's balance.
func (w *World) AddCoins(f Faction, amount int) {
	w.coins[f] += amount
}

// Stronghold returns f's stronghold, or nil once it has fallen.
func (w *World) Stronghold(f Faction) *Building {
	for _, b := range w.buildings {
		if b.Owner == f && b.Type == BuildingStronghold {
			return b
		}
	}
	return nil
}

// Lookup resolves a handle to the target's current cell.
func (w *World) Lookup(ref TargetRef) (Cell, bool) {
	switch ref.Kind {
	case TargetBuilding:
		if b := w.buildingIdx[ref.ID]; b != nil {
			return b.Cell, true
		}
	case TargetUnit:
		if u := w.unitIdx[ref.ID]; u != nil {
			return u.Cell, true
		}
	}
	return Cell{}, false
}

// PixelCenter converts a cell to the centre of its tile in bullet space.
func (w *World) PixelCenter(c Cell) (float64, float64) {
	ts := w.rules.TileSize
	return float64(c.X)*ts + ts/2, float64(c.Y)*ts + ts/2
}

func (w *World) allocID() EntityID {
	w.nextID++
	return w.nextID
}

// PlaceBuilding validates and applies a placement: the exact cost is
// deducted, the cell claimed and, for producers, one unit spawned at once.
// On rejection the returned error is a *PlacementError and nothing changes.
func (w *World) PlaceBuilding(owner Faction, t BuildingType, c Cell, now time.Duration) (*Building, error) {
	if err := w.ValidatePlacement(owner, t, c); err != nil {
		return nil, err
	}
	stats, _ := w.rules.Building(t)
	w.coins[owner] -= stats.Cost
	b := w.addBuilding(owner, t, c, now)
	if stats.Producer {
		w.SpawnUnit(b, now)
	}
	return b, nil
}

// addBuilding creates a building without any rule checks.
func (w *World) addBuilding(owner Faction, t BuildingType, c Cell, now time.Duration) *Building {
	stats, ok := w.rules.Building(t)
	if !ok {
		panic(fmt.Sprintf("no stats for building %s", t))
	}
	b := &Building{
		ID:         w.allocID(),
		Cell:       c,
		Type:       t,
		Owner:      owner,
		HP:         stats.Health,
		MaxHP:      stats.Health,
		LastSpawn:  now,
		LastIncome: now,
		LastFire:   now,
	}
	w.grid.Claim(c, b.Ref())
	w.buildings = append(w.buildings, b)
	w.buildingIdx[b.ID] = b
	return b
}

// SpawnCell returns the first free neighbour of b in spawn order.
func (w *World) SpawnCell(b *Building) (Cell, bool) {
	for _, off := range spawnOffsets {
		c := b.Cell.Add(off[0], off[1])
		if w.grid.Free(c) {
			return c, true
		}
	}
	return Cell{}, false
}

// SpawnUnit creates one unit of the type b produces next to b. It reports
// false when b produces nothing, no neighbour is free, or the unit cap is hit.
func (w *World) SpawnUnit(b *Building, now time.Duration) (*Unit, bool) {
	stats, ok := w.rules.Building(b.Type)
	if !ok || !stats.Producer {
		return nil, false
	}
	if len(w.units) >= w.limits.MaxUnits {
		return nil, false
	}
	c, ok := w.SpawnCell(b)
	if !ok {
		return nil, false
	}
	us, ok := w.rules.Unit(stats.Produces)
	if !ok {
		return nil, false
	}
	u := &Unit{
		ID:       w.allocID(),
		Cell:     c,
		Type:     stats.Produces,
		Owner:    b.Owner,
		HP:       us.Health,
		MaxHP:    us.Health,
		Home:     b.ID,
		LastFire: now,
	}
	w.grid.Claim(c, u.Ref())
	w.units = append(w.units, u)
	w.unitIdx[u.ID] = u
	return u, true
}

// FireBullet launches a bullet from the centre of a cell toward target.
func (w *World) FireBullet(from Cell, target TargetRef, owner Faction, damage int) (*Bullet, bool) {
	if len(w.bullets) >= w.limits.MaxBullets {
		return nil, false
	}
	x, y := w.PixelCenter(from)
	bl := &Bullet{
		ID:     w.allocID(),
		X:      x,
		Y:      y,
		Target: target,
		Owner:  owner,
		Damage: damage,
	}
	w.bullets = append(w.bullets, bl)
	return bl, true
}

// RemoveBuilding frees the building's cell and drops it from the collection.
func (w *World) RemoveBuilding(id EntityID) *Building {
	b := w.buildingIdx[id]
	if b == nil {
		return nil
	}
	w.grid.Release(b.Cell, b.Ref())
	delete(w.buildingIdx, id)
	for i, other := range w.buildings {
		if other.ID == id {
			w.buildings = append(w.buildings[:i], w.buildings[i+1:]...)
			break
		}
	}
	return b
}

// RemoveUnit frees the unit's cell and drops it from the collection.
func (w *World) RemoveUnit(id EntityID) *Unit {
	u := w.unitIdx[id]
	if u == nil {
		return nil
	}
	w.grid.Release(u.Cell, u.Ref())
	delete(w.unitIdx, id)
	for i, other := range w.units {
		if other.ID == id {
			w.units = append(w.units[:i], w.units[i+1:]...)
			break
		}
	}
	return u
}

// CheckInvariants verifies that every live entity's cell is marked with it and
// that every occupied cell resolves back to a live entity standing there.
// It returns the first inconsistency found.
func (w *World) CheckInvariants() error {
	live := 0
	for _, b := range w.buildings {
		if b.HP <= 0 {
			return fmt.Errorf("building %d has %d hp but is still live", b.ID, b.HP)
		}
		ref, ok := w.grid.At(b.Cell)
		if !ok || ref != b.Ref() {
			return fmt.Errorf("building %d cell %s not marked (got %v)", b.ID, b.Cell, ref)
		}
		live++
	}
	for _, u := range w.units {
		if u.HP <= 0 {
			return fmt.Errorf("unit %d has %d hp but is still live", u.ID, u.HP)
		}
		ref, ok := w.grid.At(u.Cell)
		if !ok || ref != u.Ref() {
			return fmt.Errorf("unit %d cell %s not marked (got %v)", u.ID, u.Cell, ref)
		}
		live++
	}
	var stray error
	w.grid.ForEach(func(c Cell, ref TargetRef) bool {
		if at, ok := w.Lookup(ref); !ok || at != c {
			stray = fmt.Errorf("cell %s holds %v with no live entity there", c, ref)
			return false
		}
		return true
	})
	if stray != nil {
		return stray
	}
	if w.grid.Count() != live {
		return fmt.Errorf("grid has %d occupied cells for %d live entities", w.grid.Count(), live)
	}
	if len(w.buildingIdx) != len(w.buildings) || len(w.unitIdx) != len(w.units) {
		return fmt.Errorf("entity index out of sync with collections")
	}
	return nil
}
