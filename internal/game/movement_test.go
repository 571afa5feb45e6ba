package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProgressAccumulation verifies speed * rate * dt accrual and reset
func TestProgressAccumulation(t *testing.T) {
	w := newTestWorld(t)
	rng := rand.New(rand.NewSource(1))
	u := putUnit(t, w, FactionPlayer, UnitSoldier, Cell{X: 5, Y: 12}) // 0.6 steps/s

	_, moved := w.AdvanceUnit(u, 1, rng)
	assert.False(t, moved)
	assert.InDelta(t, 0.6, u.Progress, 1e-9)

	m, moved := w.AdvanceUnit(u, 1, rng)
	require.True(t, moved)
	assert.Equal(t, 0.0, u.Progress)
	assert.Equal(t, Cell{X: 5, Y: 12}, m.From)
	assert.NotEqual(t, m.From, m.To)
	assert.LessOrEqual(t, abs(m.To.X-m.From.X), 1, "single step")
	assert.LessOrEqual(t, abs(m.To.Y-m.From.Y), 1, "single step")
	assert.Equal(t, u.Cell, m.To)

	// Heading for (21,1): x must not decrease, y must not increase.
	assert.GreaterOrEqual(t, m.To.X, m.From.X)
	assert.LessOrEqual(t, m.To.Y, m.From.Y)
	assert.NoError(t, w.CheckInvariants())
}

// TestHoldWhenAdjacentToStronghold verifies units stop next to the target
func TestHoldWhenAdjacentToStronghold(t *testing.T) {
	w := newTestWorld(t)
	rng := rand.New(rand.NewSource(1))
	u := putUnit(t, w, FactionPlayer, UnitSpider, Cell{X: 21, Y: 2})
	u.Progress = 1

	_, moved := w.AdvanceUnit(u, 0, rng)
	assert.False(t, moved)
	assert.Equal(t, Cell{X: 21, Y: 2}, u.Cell)
	assert.Equal(t, 0.0, u.Progress, "progress resets even when holding")
}

// TestHoldWithoutEnemyStronghold verifies units idle once the target is gone
func TestHoldWithoutEnemyStronghold(t *testing.T) {
	w := newTestWorld(t)
	rng := rand.New(rand.NewSource(1))
	w.RemoveBuilding(w.Stronghold(FactionOpponent).ID)
	u := putUnit(t, w, FactionPlayer, UnitSpider, Cell{X: 10, Y: 10})
	u.Progress = 1

	_, moved := w.AdvanceUnit(u, 0, rng)
	assert.False(t, moved)
}

// TestAlignedAxisCollapses verifies a unit level with the target only moves
// along one axis
func TestAlignedAxisCollapses(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		w := newTestWorld(t)
		rng := rand.New(rand.NewSource(seed))
		u := putUnit(t, w, FactionPlayer, UnitTank, Cell{X: 10, Y: 1})
		u.Progress = 1

		m, moved := w.AdvanceUnit(u, 0, rng)
		require.True(t, moved, "seed %d", seed)
		assert.Equal(t, Cell{X: 11, Y: 1}, m.To, "seed %d", seed)
	}
}

// TestContestedCell is the two-units-one-cell scenario: exactly one unit
// ends up in the contested cell and the other holds.
func TestContestedCell(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		w := newTestWorld(t)
		rng := rand.New(rand.NewSource(seed))

		// Both units head toward (21,1); the only free step for either is (11,6).
		a := putUnit(t, w, FactionPlayer, UnitTank, Cell{X: 10, Y: 6})
		b := putUnit(t, w, FactionPlayer, UnitTank, Cell{X: 11, Y: 7})
		putBuilding(w, FactionPlayer, BuildingTurret, Cell{X: 10, Y: 5})
		putBuilding(w, FactionPlayer, BuildingTurret, Cell{X: 11, Y: 5})
		putBuilding(w, FactionPlayer, BuildingTurret, Cell{X: 12, Y: 7})
		putBuilding(w, FactionPlayer, BuildingTurret, Cell{X: 12, Y: 6})
		a.Progress, b.Progress = 1, 1

		_, movedA := w.AdvanceUnit(a, 0, rng)
		_, movedB := w.AdvanceUnit(b, 0, rng)

		require.True(t, movedA, "seed %d", seed)
		assert.False(t, movedB, "seed %d", seed)
		assert.Equal(t, Cell{X: 11, Y: 6}, a.Cell)
		assert.Equal(t, Cell{X: 11, Y: 7}, b.Cell)

		ref, ok := w.Grid().At(Cell{X: 11, Y: 6})
		require.True(t, ok)
		assert.Equal(t, a.Ref(), ref)
		require.NoError(t, w.CheckInvariants(), "seed %d", seed)
	}
}

// TestMovementDeterministicPerSeed verifies the injected RNG fully
// determines the path
func TestMovementDeterministicPerSeed(t *testing.T) {
	walk := func(seed int64) []Cell {
		w := newTestWorld(t)
		rng := rand.New(rand.NewSource(seed))
		u := putUnit(t, w, FactionPlayer, UnitSpider, Cell{X: 3, Y: 12})
		var path []Cell
		for i := 0; i < 30; i++ {
			if m, ok := w.AdvanceUnit(u, 1, rng); ok {
				path = append(path, m.To)
			}
		}
		return path
	}

	first := walk(7)
	require.NotEmpty(t, first)
	assert.Equal(t, first, walk(7))
}
