package game

import "time"

// Payout is income credited by one building.
type Payout struct {
	Building EntityID
	Owner    Faction
	Amount   int
}

// CollectIncome credits every income building (strongholds included) whose
// own income cadence has elapsed. Each building is tracked independently, so
// a faction with N income buildings earns up to N payouts per interval.
func (w *World) CollectIncome(now time.Duration) []Payout {
	var payouts []Payout
	for _, b := range w.buildings {
		stats, ok := w.rules.Building(b.Type)
		if !ok || !stats.Income {
			continue
		}
		if now-b.LastIncome < w.rules.IncomeInterval {
			continue
		}
		w.coins[b.Owner] += w.rules.IncomeAmount
		b.LastIncome = now
		payouts = append(payouts, Payout{Building: b.ID, Owner: b.Owner, Amount: w.rules.IncomeAmount})
	}
	return payouts
}

// SpawnDue spawns one unit from every producer whose spawn cadence has
// elapsed. A producer with no free neighbour keeps its timer and retries on
// the next tick.
func (w *World) SpawnDue(now time.Duration) []*Unit {
	var spawned []*Unit
	// Spawning only appends units, never buildings, so ranging is safe.
	for _, b := range w.buildings {
		stats, ok := w.rules.Building(b.Type)
		if !ok || !stats.Producer {
			continue
		}
		if now-b.LastSpawn < w.rules.SpawnInterval {
			continue
		}
		if u, ok := w.SpawnUnit(b, now); ok {
			b.LastSpawn = now
			spawned = append(spawned, u)
		}
	}
	return spawned
}
