package game

import (
	"errors"
	"fmt"
)

// RejectReason classifies why a placement command was refused.
type RejectReason string

const (
	RejectInsufficientFunds RejectReason = "insufficient_funds"
	RejectCellOccupied      RejectReason = "cell_occupied"
	RejectNotAdjacent       RejectReason = "not_adjacent"
	RejectOutOfBounds       RejectReason = "out_of_bounds"
	RejectUnknownType       RejectReason = "unknown_type"
	RejectMatchEnded        RejectReason = "match_ended"
)

// Sentinel errors, one per reason, for errors.Is checks.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCellOccupied      = errors.New("cell occupied")
	ErrNotAdjacent       = errors.New("cell not adjacent to an owned building")
	ErrOutOfBounds       = errors.New("cell out of bounds")
	ErrUnknownType       = errors.New("building type not placeable")
	ErrMatchEnded        = errors.New("match has ended")
)

var reasonErrors = map[RejectReason]error{
	RejectInsufficientFunds: ErrInsufficientFunds,
	RejectCellOccupied:      ErrCellOccupied,
	RejectNotAdjacent:       ErrNotAdjacent,
	RejectOutOfBounds:       ErrOutOfBounds,
	RejectUnknownType:       ErrUnknownType,
	RejectMatchEnded:        ErrMatchEnded,
}

// PlacementError is returned for every rejected placement. A rejected
// placement never mutates state.
type PlacementError struct {
	Reason  RejectReason
	Faction Faction
	Type    BuildingType
	Cell    Cell
	Cost    int
	Coins   int
}

func (e *PlacementError) Error() string {
	base := reasonErrors[e.Reason]
	if base == nil {
		base = errors.New(string(e.Reason))
	}
	if e.Reason == RejectInsufficientFunds {
		return fmt.Sprintf("place %s for %s at %s: %v (cost %d, have %d)",
			e.Type, e.Faction, e.Cell, base, e.Cost, e.Coins)
	}
	return fmt.Sprintf("place %s for %s at %s: %v", e.Type, e.Faction, e.Cell, base)
}

func (e *PlacementError) Unwrap() error {
	return reasonErrors[e.Reason]
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a
// placement rejection.
func ReasonOf(err error) RejectReason {
	var pe *PlacementError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// ValidatePlacement checks a placement without applying it.
// Checks run in order: bounds, type, occupancy, adjacency, funds.
func (w *World) ValidatePlacement(owner Faction, t BuildingType, c Cell) error {
	reject := func(reason RejectReason) error {
		pe := &PlacementError{Reason: reason, Faction: owner, Type: t, Cell: c}
		if stats, ok := w.rules.Building(t); ok {
			pe.Cost = stats.Cost
		}
		if owner.Valid() {
			pe.Coins = w.coins[owner]
		}
		return pe
	}

	if !w.grid.InBounds(c) {
		return reject(RejectOutOfBounds)
	}
	stats, ok := w.rules.Building(t)
	if !ok || !stats.Placeable || !owner.Valid() {
		return reject(RejectUnknownType)
	}
	if w.grid.Occupied(c) {
		return reject(RejectCellOccupied)
	}
	if !w.AdjacentToOwned(owner, c) {
		return reject(RejectNotAdjacent)
	}
	if w.coins[owner] < stats.Cost {
		return reject(RejectInsufficientFunds)
	}
	return nil
}

// AdjacentToOwned reports whether c is Manhattan-adjacent (distance exactly 1)
// to a live building owned by f.
func (w *World) AdjacentToOwned(f Faction, c Cell) bool {
	for _, b := range w.buildings {
		if b.Owner == f && b.Cell.Manhattan(c) == 1 {
			return true
		}
	}
	return false
}
