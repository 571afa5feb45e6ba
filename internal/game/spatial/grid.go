// Package spatial provides the tile occupancy grid shared by movement,
// placement and spawning.
//
// The grid uses a preallocated slice indexed by cell (not a map of pointers)
// so lookups are O(1) and a full scan walks memory in order.
package spatial

import "fmt"

// Cell is an integer tile coordinate. X grows to the right, Y grows downward.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns the cell offset by (dx, dy).
func (c Cell) Add(dx, dy int) Cell {
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

// Manhattan returns the taxicab distance between two cells.
func (c Cell) Manhattan(o Cell) int {
	return abs(c.X-o.X) + abs(c.Y-o.Y)
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// InvariantError reports a desync between the grid and its owner's entity
// collections. It is raised with panic: it indicates a programming error,
// never a user-facing condition.
type InvariantError struct {
	Op   string
	Cell Cell
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("occupancy invariant violated: %s %s: %s", e.Op, e.Cell, e.Msg)
}

// Occupancy tracks which cells are claimed and by whom.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
// T is the occupant handle; it must be comparable so ownership can be
// verified on release.
type Occupancy[T comparable] struct {
	cols, rows int
	cells      []T
	taken      []bool
	count      int
}

// NewOccupancy creates an empty grid of cols x rows cells.
func NewOccupancy[T comparable](cols, rows int) *Occupancy[T] {
	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &Occupancy[T]{
		cols:  cols,
		rows:  rows,
		cells: make([]T, cols*rows),
		taken: make([]bool, cols*rows),
	}
}

// InBounds reports whether c lies on the grid.
func (g *Occupancy[T]) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < g.cols && c.Y >= 0 && c.Y < g.rows
}

func (g *Occupancy[T]) index(c Cell) int {
	return c.Y*g.cols + c.X
}

// Occupied reports whether c is claimed. Out-of-bounds cells are never occupied.
func (g *Occupancy[T]) Occupied(c Cell) bool {
	if !g.InBounds(c) {
		return false
	}
	return g.taken[g.index(c)]
}

// At returns the occupant of c.
func (g *Occupancy[T]) At(c Cell) (T, bool) {
	var zero T
	if !g.InBounds(c) {
		return zero, false
	}
	idx := g.index(c)
	if !g.taken[idx] {
		return zero, false
	}
	return g.cells[idx], true
}

// Free reports whether c is on the grid and unclaimed.
func (g *Occupancy[T]) Free(c Cell) bool {
	return g.InBounds(c) && !g.taken[g.index(c)]
}

// Claim marks c as held by ref. Claiming an occupied or off-grid cell panics.
func (g *Occupancy[T]) Claim(c Cell, ref T) {
	if !g.InBounds(c) {
		panic(&InvariantError{Op: "claim", Cell: c, Msg: "out of bounds"})
	}
	idx := g.index(c)
	if g.taken[idx] {
		panic(&InvariantError{Op: "claim", Cell: c, Msg: fmt.Sprintf("already held by %v", g.cells[idx])})
	}
	g.cells[idx] = ref
	g.taken[idx] = true
	g.count++
}

// Release frees c. The cell must currently be held by ref.
func (g *Occupancy[T]) Release(c Cell, ref T) {
	if !g.InBounds(c) {
		panic(&InvariantError{Op: "release", Cell: c, Msg: "out of bounds"})
	}
	idx := g.index(c)
	if !g.taken[idx] {
		panic(&InvariantError{Op: "release", Cell: c, Msg: "cell not occupied"})
	}
	if g.cells[idx] != ref {
		panic(&InvariantError{Op: "release", Cell: c, Msg: fmt.Sprintf("held by %v, not %v", g.cells[idx], ref)})
	}
	var zero T
	g.cells[idx] = zero
	g.taken[idx] = false
	g.count--
}

// Move transfers ref from one cell to another in a single step.
func (g *Occupancy[T]) Move(from, to Cell, ref T) {
	if !g.Free(to) {
		panic(&InvariantError{Op: "move", Cell: to, Msg: "destination unavailable"})
	}
	g.Release(from, ref)
	g.Claim(to, ref)
}

// Count returns the number of claimed cells.
func (g *Occupancy[T]) Count() int {
	return g.count
}

// ForEach visits every claimed cell in row-major order.
// Return false from fn to stop iteration.
func (g *Occupancy[T]) ForEach(fn func(c Cell, ref T) bool) {
	for idx, taken := range g.taken {
		if !taken {
			continue
		}
		if !fn(Cell{X: idx % g.cols, Y: idx / g.cols}, g.cells[idx]) {
			return
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
