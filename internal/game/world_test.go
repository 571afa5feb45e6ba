package game

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetupMatch verifies the fixed opening position
func TestSetupMatch(t *testing.T) {
	w := newTestWorld(t)

	player := w.Stronghold(FactionPlayer)
	require.NotNil(t, player)
	assert.Equal(t, Cell{X: 2, Y: 15}, player.Cell)
	assert.Equal(t, 200, player.HP)

	opp := w.Stronghold(FactionOpponent)
	require.NotNil(t, opp)
	assert.Equal(t, Cell{X: 21, Y: 1}, opp.Cell)

	for _, f := range Factions {
		assert.Equal(t, 50, w.Coins(f), f.String())
		assert.Equal(t, 0, w.Score(f), f.String())
	}
	assert.Len(t, w.Buildings(), 2)
	assert.Empty(t, w.Units())
	assert.Equal(t, 2, w.Grid().Count())
}

// TestPlaceIncomeWithoutFunds is the 65-vs-50 coins opening scenario
func TestPlaceIncomeWithoutFunds(t *testing.T) {
	w := newTestWorld(t)

	b, err := w.PlaceBuilding(FactionPlayer, BuildingIncome, Cell{X: 3, Y: 15}, 0)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, RejectInsufficientFunds, ReasonOf(err))

	var pe *PlacementError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 65, pe.Cost)
	assert.Equal(t, 50, pe.Coins)

	assert.Equal(t, 50, w.Coins(FactionPlayer))
	assert.Len(t, w.Buildings(), 2)
	assert.NoError(t, w.CheckInvariants())
}

// TestPlacementRejections covers every rejection reason and check order
func TestPlacementRejections(t *testing.T) {
	tests := []struct {
		name   string
		owner  Faction
		typ    BuildingType
		cell   Cell
		reason RejectReason
	}{
		{"off grid", FactionPlayer, BuildingBarracks, Cell{X: -1, Y: 15}, RejectOutOfBounds},
		{"off grid beats unknown type", FactionPlayer, BuildingStronghold, Cell{X: 24, Y: 0}, RejectOutOfBounds},
		{"stronghold not placeable", FactionPlayer, BuildingStronghold, Cell{X: 3, Y: 15}, RejectUnknownType},
		{"invalid type", FactionPlayer, BuildingType(99), Cell{X: 3, Y: 15}, RejectUnknownType},
		{"no faction", FactionNone, BuildingBarracks, Cell{X: 3, Y: 15}, RejectUnknownType},
		{"own stronghold cell", FactionPlayer, BuildingBarracks, Cell{X: 2, Y: 15}, RejectCellOccupied},
		{"far away", FactionPlayer, BuildingBarracks, Cell{X: 10, Y: 10}, RejectNotAdjacent},
		{"diagonal is not adjacent", FactionPlayer, BuildingBarracks, Cell{X: 3, Y: 14}, RejectNotAdjacent},
		{"next to enemy only", FactionPlayer, BuildingBarracks, Cell{X: 20, Y: 1}, RejectNotAdjacent},
		{"too expensive", FactionOpponent, BuildingIncome, Cell{X: 21, Y: 2}, RejectInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t)
			before := w.Grid().Count()

			_, err := w.PlaceBuilding(tt.owner, tt.typ, tt.cell, 0)
			require.Error(t, err)
			assert.Equal(t, tt.reason, ReasonOf(err))
			assert.True(t, IsPlacementRejection(err))

			assert.Equal(t, 50, w.Coins(FactionPlayer))
			assert.Equal(t, 50, w.Coins(FactionOpponent))
			assert.Equal(t, before, w.Grid().Count())
			assert.NoError(t, w.CheckInvariants())
		})
	}
}

// TestPlaceProducerSpawnsImmediately verifies cost deduction and the
// construction spawn
func TestPlaceProducerSpawnsImmediately(t *testing.T) {
	w := newTestWorld(t)

	b, err := w.PlaceBuilding(FactionPlayer, BuildingBarracks, Cell{X: 3, Y: 15}, 0)
	require.NoError(t, err)
	require.NotNil(t, b)

	assert.Equal(t, 25, w.Coins(FactionPlayer), "exact cost deducted")
	assert.Equal(t, 60, b.HP)

	require.Len(t, w.Units(), 1)
	u := w.Units()[0]
	assert.Equal(t, UnitSoldier, u.Type)
	assert.Equal(t, FactionPlayer, u.Owner)
	assert.Equal(t, b.ID, u.Home)
	assert.Equal(t, Cell{X: 3, Y: 14}, u.Cell, "first free neighbour is above")
	assert.NoError(t, w.CheckInvariants())
}

// TestPlaceNonProducer verifies that non-producers never spawn
func TestPlaceNonProducer(t *testing.T) {
	w := newTestWorld(t)

	_, err := w.PlaceBuilding(FactionPlayer, BuildingTurret, Cell{X: 2, Y: 14}, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, w.Coins(FactionPlayer))
	assert.Empty(t, w.Units())
}

// TestSpawnCellOrder verifies 4-neighbours come before diagonals
func TestSpawnCellOrder(t *testing.T) {
	w := emptyWorld()
	b := putBuilding(w, FactionPlayer, BuildingTankNest, Cell{X: 5, Y: 5})

	expected := []Cell{
		{X: 5, Y: 4}, {X: 5, Y: 6}, {X: 4, Y: 5}, {X: 6, Y: 5},
		{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 4, Y: 6}, {X: 6, Y: 6},
	}
	for i, want := range expected {
		u, ok := w.SpawnUnit(b, 0)
		require.True(t, ok, "spawn %d", i)
		assert.Equal(t, want, u.Cell, "spawn %d", i)
	}

	_, ok := w.SpawnUnit(b, 0)
	assert.False(t, ok, "surrounded producer cannot spawn")
	assert.Len(t, w.Units(), 8)
	assert.NoError(t, w.CheckInvariants())
}

// TestSpawnRespectsUnitCap verifies the resource limit
func TestSpawnRespectsUnitCap(t *testing.T) {
	w := NewWorld(DefaultRules(), ResourceLimits{MaxUnits: 1, MaxBullets: 1})
	b := putBuilding(w, FactionPlayer, BuildingBarracks, Cell{X: 5, Y: 5})

	_, ok := w.SpawnUnit(b, 0)
	require.True(t, ok)
	_, ok = w.SpawnUnit(b, 0)
	assert.False(t, ok)

	_, ok = w.FireBullet(b.Cell, b.Ref(), FactionOpponent, 1)
	require.True(t, ok)
	_, ok = w.FireBullet(b.Cell, b.Ref(), FactionOpponent, 1)
	assert.False(t, ok)
}

// TestRemoveFreesCell verifies removal keeps the grid in sync and IDs are
// never reused
func TestRemoveFreesCell(t *testing.T) {
	w := newTestWorld(t)
	u := putUnit(t, w, FactionPlayer, UnitTank, Cell{X: 8, Y: 8})
	b := putBuilding(w, FactionPlayer, BuildingTurret, Cell{X: 9, Y: 8})

	removed := w.RemoveUnit(u.ID)
	require.NotNil(t, removed)
	assert.True(t, w.Grid().Free(Cell{X: 8, Y: 8}))
	assert.Nil(t, w.Unit(u.ID))
	_, ok := w.Lookup(u.Ref())
	assert.False(t, ok)

	require.NotNil(t, w.RemoveBuilding(b.ID))
	assert.True(t, w.Grid().Free(Cell{X: 9, Y: 8}))
	assert.Nil(t, w.RemoveBuilding(b.ID), "second removal is a no-op")

	u2 := putUnit(t, w, FactionPlayer, UnitTank, Cell{X: 8, Y: 8})
	assert.Greater(t, u2.ID, b.ID)
	assert.NoError(t, w.CheckInvariants())
}

// TestLookup verifies the uniform position accessor
func TestLookup(t *testing.T) {
	w := newTestWorld(t)
	u := putUnit(t, w, FactionOpponent, UnitDrone, Cell{X: 4, Y: 4})

	c, ok := w.Lookup(u.Ref())
	require.True(t, ok)
	assert.Equal(t, Cell{X: 4, Y: 4}, c)

	c, ok = w.Lookup(w.Stronghold(FactionOpponent).Ref())
	require.True(t, ok)
	assert.Equal(t, Cell{X: 21, Y: 1}, c)

	_, ok = w.Lookup(TargetRef{Kind: TargetUnit, ID: 9999})
	assert.False(t, ok)
	_, ok = w.Lookup(TargetRef{})
	assert.False(t, ok)
}

// TestCheckInvariantsDetectsDesync verifies the bijection check
func TestCheckInvariantsDetectsDesync(t *testing.T) {
	w := newTestWorld(t)
	u := putUnit(t, w, FactionPlayer, UnitSoldier, Cell{X: 5, Y: 10})

	// Move the unit without telling the grid.
	u.Cell = Cell{X: 6, Y: 10}
	assert.Error(t, w.CheckInvariants())

	u.Cell = Cell{X: 5, Y: 10}
	require.NoError(t, w.CheckInvariants())

	u.HP = 0
	assert.Error(t, w.CheckInvariants(), "dead units must not linger")
}

// TestCheckInvariantsDetectsStrayCell verifies occupied cells are walked back
// to the entities that hold them
func TestCheckInvariantsDetectsStrayCell(t *testing.T) {
	w := newTestWorld(t)
	require.NoError(t, w.CheckInvariants())

	w.Grid().Claim(Cell{X: 8, Y: 8}, TargetRef{Kind: TargetUnit, ID: 999})
	err := w.CheckInvariants()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(8,8)")

	w.Grid().Release(Cell{X: 8, Y: 8}, TargetRef{Kind: TargetUnit, ID: 999})
	require.NoError(t, w.CheckInvariants())

	// A live entity's ref marked on a second cell is caught too.
	b := w.Stronghold(FactionPlayer)
	w.Grid().Claim(Cell{X: 9, Y: 9}, b.Ref())
	err = w.CheckInvariants()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(9,9)")
}

func TestPixelCenter(t *testing.T) {
	w := emptyWorld()
	x, y := w.PixelCenter(Cell{X: 0, Y: 0})
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 20.0, y)
	x, y = w.PixelCenter(Cell{X: 3, Y: 2})
	assert.Equal(t, 140.0, x)
	assert.Equal(t, 100.0, y)
}
