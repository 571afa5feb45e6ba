package game

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BuildingStats holds per-type balance values for a building.
type BuildingStats struct {
	Cost      int      `json:"cost"`
	Health    int      `json:"health"`
	Score     int      `json:"score"`     // credited to whoever destroys it
	Placeable bool     `json:"placeable"` // false for the pre-placed stronghold
	Income    bool     `json:"income"`    // generates coins on the income cadence
	Produces  UnitType `json:"produces"`
	Producer  bool     `json:"producer"` // Produces is meaningful
	Range     int      `json:"range"`    // >0 for buildings that shoot
	Damage    int      `json:"damage"`
}

// UnitStats holds per-type balance values for a unit.
type UnitStats struct {
	Speed  float64 `json:"speed"`
	Range  int     `json:"range"`
	Health int     `json:"health"`
	Score  int     `json:"score"`
	Damage int     `json:"damage"`
}

// Rules is the complete balance sheet for a match.
// These values are server-authoritative and cannot be modified by clients.
type Rules struct {
	Cols     int     `json:"cols"`
	Rows     int     `json:"rows"`
	TileSize float64 `json:"tileSize"` // pixels per cell, bullet space

	StartingCoins int           `json:"startingCoins"`
	MatchDuration time.Duration `json:"matchDuration"`

	SpawnInterval    time.Duration `json:"spawnInterval"`
	FireInterval     time.Duration `json:"fireInterval"`
	IncomeInterval   time.Duration `json:"incomeInterval"`
	OpponentInterval time.Duration `json:"opponentInterval"`
	IncomeAmount     int           `json:"incomeAmount"`

	BulletSpeed  float64 `json:"bulletSpeed"`  // pixels per second
	HitThreshold float64 `json:"hitThreshold"` // pixels
	ProgressRate float64 `json:"progressRate"` // steps per second per unit of speed

	Buildings map[BuildingType]BuildingStats `json:"buildings"`
	Units     map[UnitType]UnitStats         `json:"units"`

	// OpponentBuilds is the candidate list the scripted opponent shuffles.
	OpponentBuilds []BuildingType `json:"opponentBuilds"`
}

// Stock balance constants.
const (
	DefaultCols          = 24 // 960px play area / 40px tiles
	DefaultRows          = 17 // 700px / 40px tiles
	DefaultTileSize      = 40.0
	DefaultStartingCoins = 50
	DefaultIncomeAmount  = 10
	UnitDamage           = 10
	SiegeDamage          = 15
	StrongholdRange      = 3
	TurretRange          = 5
)

// DefaultRules returns the stock balance sheet.
func DefaultRules() *Rules {
	return &Rules{
		Cols:             DefaultCols,
		Rows:             DefaultRows,
		TileSize:         DefaultTileSize,
		StartingCoins:    DefaultStartingCoins,
		MatchDuration:    300 * time.Second,
		SpawnInterval:    11 * time.Second,
		FireInterval:     2 * time.Second,
		IncomeInterval:   8 * time.Second,
		OpponentInterval: 4 * time.Second,
		IncomeAmount:     DefaultIncomeAmount,
		BulletSpeed:      180, // 3px/frame at 60 FPS
		HitThreshold:     5,
		ProgressRate:     6, // speed/10 per frame at 60 FPS
		Buildings: map[BuildingType]BuildingStats{
			BuildingStronghold: {Health: 200, Score: 10, Income: true, Range: StrongholdRange, Damage: SiegeDamage},
			BuildingIncome:     {Cost: 65, Health: 80, Score: 65, Placeable: true, Income: true},
			BuildingTankNest:   {Cost: 30, Health: 100, Score: 30, Placeable: true, Produces: UnitTank, Producer: true},
			BuildingBarracks:   {Cost: 25, Health: 60, Score: 25, Placeable: true, Produces: UnitSoldier, Producer: true},
			BuildingDronePad:   {Cost: 40, Health: 50, Score: 40, Placeable: true, Produces: UnitDrone, Producer: true},
			BuildingSpiderDen:  {Cost: 50, Health: 70, Score: 50, Placeable: true, Produces: UnitSpider, Producer: true},
			BuildingTurret:     {Cost: 30, Health: 120, Score: 30, Placeable: true, Range: TurretRange, Damage: SiegeDamage},
		},
		Units: map[UnitType]UnitStats{
			UnitTank:    {Speed: 0.05, Range: 2, Health: 60, Score: 30, Damage: UnitDamage},
			UnitSoldier: {Speed: 0.1, Range: 1, Health: 30, Score: 25, Damage: UnitDamage},
			UnitDrone:   {Speed: 0.15, Range: 3, Health: 20, Score: 40, Damage: UnitDamage},
			UnitSpider:  {Speed: 0.2, Range: 2, Health: 40, Score: 50, Damage: UnitDamage},
		},
		OpponentBuilds: []BuildingType{
			BuildingIncome, BuildingTankNest, BuildingBarracks, BuildingDronePad, BuildingSpiderDen,
		},
	}
}

// Clone returns a deep copy so callers can tweak a rule set without
// affecting a running match.
func (r *Rules) Clone() *Rules {
	c := *r
	c.Buildings = make(map[BuildingType]BuildingStats, len(r.Buildings))
	for k, v := range r.Buildings {
		c.Buildings[k] = v
	}
	c.Units = make(map[UnitType]UnitStats, len(r.Units))
	for k, v := range r.Units {
		c.Units[k] = v
	}
	c.OpponentBuilds = append([]BuildingType(nil), r.OpponentBuilds...)
	return &c
}

// Building returns the stats for t.
func (r *Rules) Building(t BuildingType) (BuildingStats, bool) {
	s, ok := r.Buildings[t]
	return s, ok
}

// Unit returns the stats for t.
func (r *Rules) Unit(t UnitType) (UnitStats, bool) {
	s, ok := r.Units[t]
	return s, ok
}

// StrongholdCell returns the fixed starting corner for a faction:
// bottom-left for the player, top-right for the opponent.
func (r *Rules) StrongholdCell(f Faction) Cell {
	if f == FactionOpponent {
		return Cell{X: r.Cols - 3, Y: 1}
	}
	return Cell{X: 2, Y: r.Rows - 2}
}

// Territory returns the half-open row range [minY, maxY) owned by f.
// The opponent holds the top half.
func (r *Rules) Territory(f Faction) (minY, maxY int) {
	if f == FactionOpponent {
		return 0, r.Rows / 2
	}
	return r.Rows / 2, r.Rows
}

// Validate checks the rule set for values the simulation cannot run with.
func (r *Rules) Validate() error {
	if r.Cols < 6 || r.Rows < 4 {
		return fmt.Errorf("grid %dx%d too small (min 6x4)", r.Cols, r.Rows)
	}
	if r.TileSize <= 0 {
		return fmt.Errorf("tileSize must be > 0, got %v", r.TileSize)
	}
	if r.StartingCoins < 0 {
		return fmt.Errorf("startingCoins must be >= 0, got %d", r.StartingCoins)
	}
	if r.MatchDuration <= 0 {
		return fmt.Errorf("matchDuration must be > 0, got %s", r.MatchDuration)
	}
	for name, d := range map[string]time.Duration{
		"spawn":    r.SpawnInterval,
		"fire":     r.FireInterval,
		"income":   r.IncomeInterval,
		"opponent": r.OpponentInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s interval must be > 0, got %s", name, d)
		}
	}
	if r.BulletSpeed <= 0 || r.HitThreshold <= 0 || r.ProgressRate <= 0 {
		return fmt.Errorf("bulletSpeed, hitThreshold and progressRate must be > 0")
	}
	for _, t := range AllBuildingTypes() {
		s, ok := r.Buildings[t]
		if !ok {
			return fmt.Errorf("missing stats for building %s", t)
		}
		if s.Health <= 0 {
			return fmt.Errorf("building %s health must be > 0, got %d", t, s.Health)
		}
		if s.Cost < 0 {
			return fmt.Errorf("building %s cost must be >= 0, got %d", t, s.Cost)
		}
		if s.Range > 0 && s.Damage <= 0 {
			return fmt.Errorf("building %s shoots but has no damage", t)
		}
	}
	if r.Buildings[BuildingStronghold].Placeable {
		return fmt.Errorf("stronghold cannot be placeable")
	}
	for _, t := range AllUnitTypes() {
		s, ok := r.Units[t]
		if !ok {
			return fmt.Errorf("missing stats for unit %s", t)
		}
		if s.Health <= 0 || s.Damage <= 0 || s.Range < 1 || s.Speed < 0 {
			return fmt.Errorf("unit %s has invalid stats %+v", t, s)
		}
	}
	for _, t := range r.OpponentBuilds {
		if s, ok := r.Buildings[t]; !ok || !s.Placeable {
			return fmt.Errorf("opponent build %s is not placeable", t)
		}
	}
	return nil
}

// =============================================================================
// YAML RULES FILE
// =============================================================================

// rulesFile mirrors Rules with optional fields so a file only needs to list
// the values it overrides.
type rulesFile struct {
	Grid *struct {
		Cols     int     `yaml:"cols"`
		Rows     int     `yaml:"rows"`
		TileSize float64 `yaml:"tileSize"`
	} `yaml:"grid"`
	StartingCoins *int           `yaml:"startingCoins"`
	MatchDuration *time.Duration `yaml:"matchDuration"`
	Timers        *struct {
		Spawn    time.Duration `yaml:"spawn"`
		Fire     time.Duration `yaml:"fire"`
		Income   time.Duration `yaml:"income"`
		Opponent time.Duration `yaml:"opponent"`
	} `yaml:"timers"`
	IncomeAmount *int `yaml:"incomeAmount"`
	Bullet       *struct {
		Speed        float64 `yaml:"speed"`
		HitThreshold float64 `yaml:"hitThreshold"`
	} `yaml:"bullet"`
	ProgressRate   *float64                     `yaml:"progressRate"`
	Buildings      map[string]buildingStatsFile `yaml:"buildings"`
	Units          map[string]unitStatsFile     `yaml:"units"`
	OpponentBuilds []string                     `yaml:"opponentBuilds"`
}

type buildingStatsFile struct {
	Cost   *int `yaml:"cost"`
	Health *int `yaml:"health"`
	Score  *int `yaml:"score"`
	Range  *int `yaml:"range"`
	Damage *int `yaml:"damage"`
}

type unitStatsFile struct {
	Speed  *float64 `yaml:"speed"`
	Range  *int     `yaml:"range"`
	Health *int     `yaml:"health"`
	Score  *int     `yaml:"score"`
	Damage *int     `yaml:"damage"`
}

// LoadRules reads a YAML rules file and overlays it on DefaultRules.
func LoadRules(filePath string) (*Rules, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules overlays YAML-encoded overrides on DefaultRules and validates
// the result.
func ParseRules(data []byte) (*Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	rules := DefaultRules()
	if err := file.apply(rules); err != nil {
		return nil, fmt.Errorf("invalid rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file: %w", err)
	}
	return rules, nil
}

func (f *rulesFile) apply(r *Rules) error {
	if f.Grid != nil {
		setIfPositive(&r.Cols, f.Grid.Cols)
		setIfPositive(&r.Rows, f.Grid.Rows)
		if f.Grid.TileSize > 0 {
			r.TileSize = f.Grid.TileSize
		}
	}
	if f.StartingCoins != nil {
		r.StartingCoins = *f.StartingCoins
	}
	if f.MatchDuration != nil {
		r.MatchDuration = *f.MatchDuration
	}
	if f.Timers != nil {
		setDurationIfPositive(&r.SpawnInterval, f.Timers.Spawn)
		setDurationIfPositive(&r.FireInterval, f.Timers.Fire)
		setDurationIfPositive(&r.IncomeInterval, f.Timers.Income)
		setDurationIfPositive(&r.OpponentInterval, f.Timers.Opponent)
	}
	if f.IncomeAmount != nil {
		r.IncomeAmount = *f.IncomeAmount
	}
	if f.Bullet != nil {
		if f.Bullet.Speed > 0 {
			r.BulletSpeed = f.Bullet.Speed
		}
		if f.Bullet.HitThreshold > 0 {
			r.HitThreshold = f.Bullet.HitThreshold
		}
	}
	if f.ProgressRate != nil {
		r.ProgressRate = *f.ProgressRate
	}

	for name, override := range f.Buildings {
		t, err := ParseBuildingType(name)
		if err != nil {
			return err
		}
		s := r.Buildings[t]
		setInt(&s.Cost, override.Cost)
		setInt(&s.Health, override.Health)
		setInt(&s.Score, override.Score)
		setInt(&s.Range, override.Range)
		setInt(&s.Damage, override.Damage)
		r.Buildings[t] = s
	}
	for name, override := range f.Units {
		t, err := ParseUnitType(name)
		if err != nil {
			return err
		}
		s := r.Units[t]
		if override.Speed != nil {
			s.Speed = *override.Speed
		}
		setInt(&s.Range, override.Range)
		setInt(&s.Health, override.Health)
		setInt(&s.Score, override.Score)
		setInt(&s.Damage, override.Damage)
		r.Units[t] = s
	}
	if len(f.OpponentBuilds) > 0 {
		builds := make([]BuildingType, 0, len(f.OpponentBuilds))
		for _, name := range f.OpponentBuilds {
			t, err := ParseBuildingType(name)
			if err != nil {
				return err
			}
			builds = append(builds, t)
		}
		r.OpponentBuilds = builds
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setIfPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDurationIfPositive(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
