package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestWorld returns a world at match start: both strongholds placed and
// both factions at the starting balance.
func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld(DefaultRules(), DefaultLimits)
	w.SetupMatch(0)
	require.NoError(t, w.CheckInvariants())
	return w
}

// emptyWorld returns a world with no buildings at all.
func emptyWorld() *World {
	return NewWorld(DefaultRules(), DefaultLimits)
}

// putUnit drops a unit straight onto the grid, bypassing producers.
func putUnit(t *testing.T, w *World, owner Faction, ut UnitType, c Cell) *Unit {
	t.Helper()
	stats, ok := w.rules.Unit(ut)
	require.True(t, ok)
	u := &Unit{
		ID:    w.allocID(),
		Cell:  c,
		Type:  ut,
		Owner: owner,
		HP:    stats.Health,
		MaxHP: stats.Health,
	}
	w.grid.Claim(c, u.Ref())
	w.units = append(w.units, u)
	w.unitIdx[u.ID] = u
	return u
}

// putBuilding drops a building straight onto the grid without any checks.
func putBuilding(w *World, owner Faction, bt BuildingType, c Cell) *Building {
	return w.addBuilding(owner, bt, c, 0)
}

// newTestEngine builds an engine driven by a manual clock.
func newTestEngine(t *testing.T, mutate func(cfg *EngineConfig)) (*Engine, *ManualClock) {
	t.Helper()
	clock := NewManualClock(testEpoch)
	cfg := EngineConfig{
		TickRate: 30,
		Rules:    DefaultRules(),
		Seed:     42,
		Clock:    clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e := NewEngine(cfg)
	require.NotNil(t, e)
	return e, clock
}
