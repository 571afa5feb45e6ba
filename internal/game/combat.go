package game

import (
	"math"
	"time"
)

// Shot records a bullet fired this tick.
type Shot struct {
	Bullet  *Bullet
	Shooter TargetRef
	From    Cell
}

// Hit records a bullet that reached its target.
type Hit struct {
	Bullet   Bullet
	Target   TargetRef
	Damage   int
	HPLeft   int
	Killed   bool
	Score    int          // credited to the bullet owner when Killed
	Building BuildingType // valid when Target.Kind == TargetBuilding
	Unit     UnitType     // valid when Target.Kind == TargetUnit
	Cell     Cell
}

// StrongholdFell reports whether this hit destroyed a stronghold.
func (h Hit) StrongholdFell() bool {
	return h.Killed && h.Target.Kind == TargetBuilding && h.Building == BuildingStronghold
}

// BuildingsFire lets every shooting building whose fire cadence has elapsed
// fire at the nearest enemy unit in range. A building with nothing in range
// keeps its timer, so it fires as soon as a unit walks in.
func (w *World) BuildingsFire(now time.Duration) []Shot {
	var shots []Shot
	for _, b := range w.buildings {
		stats, ok := w.rules.Building(b.Type)
		if !ok || stats.Range <= 0 {
			continue
		}
		if now-b.LastFire < w.rules.FireInterval {
			continue
		}
		target := w.nearestUnit(b.Owner.Enemy(), b.Cell, stats.Range)
		if target == nil {
			continue
		}
		bl, ok := w.FireBullet(b.Cell, target.Ref(), b.Owner, stats.Damage)
		if !ok {
			continue
		}
		b.LastFire = now
		shots = append(shots, Shot{Bullet: bl, Shooter: b.Ref(), From: b.Cell})
	}
	return shots
}

// UnitFire fires u at its highest-priority target if its cadence has elapsed.
func (w *World) UnitFire(u *Unit, now time.Duration) (Shot, bool) {
	if now-u.LastFire < w.rules.FireInterval {
		return Shot{}, false
	}
	target, ok := w.SelectTarget(u)
	if !ok {
		return Shot{}, false
	}
	stats, _ := w.rules.Unit(u.Type)
	bl, ok := w.FireBullet(u.Cell, target, u.Owner, stats.Damage)
	if !ok {
		return Shot{}, false
	}
	u.LastFire = now
	return Shot{Bullet: bl, Shooter: u.Ref(), From: u.Cell}, true
}

// SelectTarget picks what u should shoot, in strict tier order: enemy units
// in range, then enemy non-stronghold buildings in range, then the enemy
// stronghold. Within a tier the nearest wins; ties go to the entity created
// first.
func (w *World) SelectTarget(u *Unit) (TargetRef, bool) {
	stats, ok := w.rules.Unit(u.Type)
	if !ok {
		return TargetRef{}, false
	}
	enemy := u.Owner.Enemy()

	if t := w.nearestUnit(enemy, u.Cell, stats.Range); t != nil {
		return t.Ref(), true
	}
	if b := w.nearestBuilding(enemy, u.Cell, stats.Range, false); b != nil {
		return b.Ref(), true
	}
	if b := w.nearestBuilding(enemy, u.Cell, stats.Range, true); b != nil {
		return b.Ref(), true
	}
	return TargetRef{}, false
}

func (w *World) nearestUnit(owner Faction, from Cell, rng int) *Unit {
	var best *Unit
	bestDist := rng + 1
	for _, u := range w.units {
		if u.Owner != owner {
			continue
		}
		if d := u.Cell.Manhattan(from); d <= rng && d < bestDist {
			best, bestDist = u, d
		}
	}
	return best
}

func (w *World) nearestBuilding(owner Faction, from Cell, rng int, stronghold bool) *Building {
	var best *Building
	bestDist := rng + 1
	for _, b := range w.buildings {
		if b.Owner != owner || (b.Type == BuildingStronghold) != stronghold {
			continue
		}
		if d := b.Cell.Manhattan(from); d <= rng && d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

// ResolveBullets advances every bullet by dt toward its target's current
// position and applies damage to those within the hit threshold. Bullets
// whose target is gone are dropped silently. Resolution stops at the first
// stronghold kill; bullets not yet processed stay in flight.
func (w *World) ResolveBullets(dt float64) []Hit {
	var hits []Hit
	step := w.rules.BulletSpeed * dt

	n := 0
	for i, bl := range w.bullets {
		if len(hits) > 0 && hits[len(hits)-1].StrongholdFell() {
			n += copy(w.bullets[n:], w.bullets[i:])
			break
		}

		cell, ok := w.Lookup(bl.Target)
		if !ok {
			continue // target already removed: miss
		}
		tx, ty := w.PixelCenter(cell)
		dx, dy := tx-bl.X, ty-bl.Y
		dist := math.Hypot(dx, dy)

		if dist < w.rules.HitThreshold {
			hits = append(hits, w.applyHit(bl))
			continue
		}

		move := math.Min(step, dist)
		bl.X += dx / dist * move
		bl.Y += dy / dist * move
		w.bullets[n] = bl
		n++
	}
	for i := n; i < len(w.bullets); i++ {
		w.bullets[i] = nil
	}
	w.bullets = w.bullets[:n]
	return hits
}

// applyHit deals the bullet's damage. The target must exist.
func (w *World) applyHit(bl *Bullet) Hit {
	h := Hit{Bullet: *bl, Target: bl.Target, Damage: bl.Damage}

	switch bl.Target.Kind {
	case TargetBuilding:
		b := w.buildingIdx[bl.Target.ID]
		b.HP -= bl.Damage
		h.HPLeft, h.Building, h.Cell = b.HP, b.Type, b.Cell
		if b.HP <= 0 {
			stats, _ := w.rules.Building(b.Type)
			h.Killed, h.Score = true, stats.Score
			w.RemoveBuilding(b.ID)
		}
	case TargetUnit:
		u := w.unitIdx[bl.Target.ID]
		u.HP -= bl.Damage
		h.HPLeft, h.Unit, h.Cell = u.HP, u.Type, u.Cell
		if u.HP <= 0 {
			stats, _ := w.rules.Unit(u.Type)
			h.Killed, h.Score = true, stats.Score
			w.RemoveUnit(u.ID)
		}
	}
	if h.Killed && bl.Owner.Valid() {
		w.scores[bl.Owner] += h.Score
	}
	return h
}
