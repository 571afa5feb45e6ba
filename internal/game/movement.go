package game

import "math/rand"

// Move is a completed single-cell step.
type Move struct {
	Unit EntityID
	From Cell
	To   Cell
}

// AdvanceUnit accumulates movement progress for u and, once a full step is
// reached, tries to move it one cell toward the enemy stronghold. The three
// candidate steps (horizontal, vertical, diagonal) are shuffled with rng and
// the first free in-bounds one is taken. Units already adjacent to the
// stronghold hold position.
func (w *World) AdvanceUnit(u *Unit, dt float64, rng *rand.Rand) (Move, bool) {
	stats, ok := w.rules.Unit(u.Type)
	if !ok {
		return Move{}, false
	}
	u.Progress += stats.Speed * w.rules.ProgressRate * dt
	if u.Progress < 1 {
		return Move{}, false
	}
	u.Progress = 0

	target := w.Stronghold(u.Owner.Enemy())
	if target == nil {
		return Move{}, false
	}
	dx, dy := target.Cell.X-u.Cell.X, target.Cell.Y-u.Cell.Y
	if abs(dx)+abs(dy) <= 1 {
		return Move{}, false
	}

	sx, sy := sign(dx), sign(dy)
	steps := [3][2]int{{sx, 0}, {0, sy}, {sx, sy}}
	rng.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })

	for _, s := range steps {
		if s[0] == 0 && s[1] == 0 {
			continue
		}
		next := u.Cell.Add(s[0], s[1])
		if !w.grid.Free(next) {
			continue
		}
		from := u.Cell
		w.grid.Move(from, next, u.Ref())
		u.Cell = next
		return Move{Unit: u.ID, From: from, To: next}, true
	}
	return Move{}, false
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
