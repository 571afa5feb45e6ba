package game

import (
	"math/rand"
	"time"
)

// Strategy is the scripted build heuristic. The engine runs one for the
// opponent faction; a second one can autoplay the player faction.
type Strategy struct {
	Faction Faction
	Builds  []BuildingType // candidate types, shuffled on every invocation
}

// NewStrategy creates a strategy for f using the rule set's candidate list.
func NewStrategy(f Faction, rules *Rules) *Strategy {
	return &Strategy{
		Faction: f,
		Builds:  append([]BuildingType(nil), rules.OpponentBuilds...),
	}
}

// Run places at most one building. It scans the faction's half of the grid
// in row-major order and stops at the first free cell adjacent to one of its
// buildings; there it places the first affordable candidate in shuffled
// order. If nothing there is affordable, the invocation does nothing.
func (s *Strategy) Run(w *World, now time.Duration, rng *rand.Rand) (*Building, bool) {
	builds := append([]BuildingType(nil), s.Builds...)
	rng.Shuffle(len(builds), func(i, j int) { builds[i], builds[j] = builds[j], builds[i] })

	c, ok := s.nextSite(w)
	if !ok {
		return nil, false
	}
	for _, t := range builds {
		stats, ok := w.rules.Building(t)
		if !ok || w.Coins(s.Faction) < stats.Cost {
			continue
		}
		b, err := w.PlaceBuilding(s.Faction, t, c, now)
		if err != nil {
			continue
		}
		return b, true
	}
	return nil, false
}

// nextSite returns the first free cell in the faction's territory that is
// adjacent to a building it owns.
func (s *Strategy) nextSite(w *World) (Cell, bool) {
	minY, maxY := w.rules.Territory(s.Faction)
	for y := minY; y < maxY; y++ {
		for x := 0; x < w.rules.Cols; x++ {
			c := Cell{X: x, Y: y}
			if w.grid.Free(c) && w.AdjacentToOwned(s.Faction, c) {
				return c, true
			}
		}
	}
	return Cell{}, false
}
