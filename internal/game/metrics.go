package game

import "time"

// Metrics receives engine instrumentation. The api package provides a
// Prometheus-backed implementation; the engine defaults to a no-op.
type Metrics interface {
	ObserveTick(d time.Duration)
	SetPopulation(buildings, units, bullets int)
	PlacementAccepted(f Faction, t BuildingType)
	PlacementRejected(f Faction, reason RejectReason)
	UnitSpawned(f Faction, t UnitType)
	ShotFired(f Faction)
	EntityDestroyed(kind TargetKind)
	MatchEnded(winner Faction, reason EndReason)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration)               {}
func (noopMetrics) SetPopulation(int, int, int)             {}
func (noopMetrics) PlacementAccepted(Faction, BuildingType) {}
func (noopMetrics) PlacementRejected(Faction, RejectReason) {}
func (noopMetrics) UnitSpawned(Faction, UnitType)           {}
func (noopMetrics) ShotFired(Faction)                       {}
func (noopMetrics) EntityDestroyed(TargetKind)              {}
func (noopMetrics) MatchEnded(Faction, EndReason)           {}
