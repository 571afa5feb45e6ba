package game

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultRules verifies the stock balance sheet
func TestDefaultRules(t *testing.T) {
	r := DefaultRules()
	require.NoError(t, r.Validate())

	assert.Equal(t, 24, r.Cols)
	assert.Equal(t, 17, r.Rows)
	assert.Equal(t, 300*time.Second, r.MatchDuration)

	costs := map[BuildingType]int{
		BuildingIncome:    65,
		BuildingTankNest:  30,
		BuildingBarracks:  25,
		BuildingDronePad:  40,
		BuildingSpiderDen: 50,
		BuildingTurret:    30,
	}
	for bt, cost := range costs {
		s, ok := r.Building(bt)
		require.True(t, ok, bt.String())
		assert.Equal(t, cost, s.Cost, bt.String())
		assert.Equal(t, cost, s.Score, "%s score equals its cost", bt)
		assert.True(t, s.Placeable, bt.String())
	}

	sh, _ := r.Building(BuildingStronghold)
	assert.False(t, sh.Placeable)
	assert.Equal(t, 10, sh.Score)
	assert.Equal(t, StrongholdRange, sh.Range)

	spider, _ := r.Unit(UnitSpider)
	assert.Equal(t, 0.2, spider.Speed)
	assert.Equal(t, 2, spider.Range)
	assert.Equal(t, 40, spider.Health)
	assert.Equal(t, 50, spider.Score)

	assert.NotContains(t, r.OpponentBuilds, BuildingTurret)
}

// TestTerritory verifies the halves split at Rows/2
func TestTerritory(t *testing.T) {
	r := DefaultRules()

	minY, maxY := r.Territory(FactionOpponent)
	assert.Equal(t, 0, minY)
	assert.Equal(t, 8, maxY)

	minY, maxY = r.Territory(FactionPlayer)
	assert.Equal(t, 8, minY)
	assert.Equal(t, 17, maxY)
}

// TestCloneIsDeep verifies clones do not share tables
func TestCloneIsDeep(t *testing.T) {
	r := DefaultRules()
	c := r.Clone()

	s := c.Buildings[BuildingTurret]
	s.Cost = 1
	c.Buildings[BuildingTurret] = s
	c.OpponentBuilds[0] = BuildingTurret

	assert.Equal(t, 30, r.Buildings[BuildingTurret].Cost)
	assert.Equal(t, BuildingIncome, r.OpponentBuilds[0])
}

// TestParseRulesOverlay verifies YAML overrides sit on top of the defaults
func TestParseRulesOverlay(t *testing.T) {
	data := []byte(`
grid:
  cols: 30
  rows: 20
startingCoins: 100
matchDuration: 2m
timers:
  fire: 1s
buildings:
  windmill:
    cost: 40
  turret:
    damage: 25
units:
  tank:
    speed: 0.5
opponentBuilds: [tank, soldier]
`)
	r, err := ParseRules(data)
	require.NoError(t, err)

	assert.Equal(t, 30, r.Cols)
	assert.Equal(t, 20, r.Rows)
	assert.Equal(t, 100, r.StartingCoins)
	assert.Equal(t, 2*time.Minute, r.MatchDuration)
	assert.Equal(t, time.Second, r.FireInterval)
	assert.Equal(t, 11*time.Second, r.SpawnInterval, "untouched values keep defaults")
	assert.Equal(t, 40, r.Buildings[BuildingIncome].Cost)
	assert.Equal(t, 80, r.Buildings[BuildingIncome].Health)
	assert.Equal(t, 25, r.Buildings[BuildingTurret].Damage)
	assert.Equal(t, 0.5, r.Units[UnitTank].Speed)
	assert.Equal(t, []BuildingType{BuildingTankNest, BuildingBarracks}, r.OpponentBuilds)
}

// TestParseRulesErrors verifies bad files are rejected
func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed yaml", "grid: [1, 2"},
		{"unknown building", "buildings:\n  castlee:\n    cost: 1\n"},
		{"unknown unit", "units:\n  dragon:\n    speed: 1\n"},
		{"zero health", "units:\n  tank:\n    health: 0\n"},
		{"stronghold as opponent build", "opponentBuilds: [castle]\n"},
		{"grid too small", "grid:\n  cols: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

// TestLoadRules verifies file loading and error wrapping
func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("startingCoins: 75\n"), 0o644))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 75, r.StartingCoins)

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestParseNames verifies canonical names and aliases
func TestParseNames(t *testing.T) {
	tests := []struct {
		in   string
		want BuildingType
	}{
		{"stronghold", BuildingStronghold},
		{"castle", BuildingStronghold},
		{"income", BuildingIncome},
		{"windmill", BuildingIncome},
		{"soldier-barracks", BuildingBarracks},
		{"soldier", BuildingBarracks},
		{"defense", BuildingTurret},
		{"spider-den", BuildingSpiderDen},
	}
	for _, tt := range tests {
		got, err := ParseBuildingType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseBuildingType("moat")
	assert.Error(t, err)

	f, err := ParseFaction("ai")
	require.NoError(t, err)
	assert.Equal(t, FactionOpponent, f)
	assert.Equal(t, FactionPlayer, f.Enemy())
	_, err = ParseFaction("spectator")
	assert.Error(t, err)
}
