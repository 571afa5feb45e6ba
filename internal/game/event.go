package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeMatchStart
	EventTypePlacement
	EventTypeRejected
	EventTypeSpawn
	EventTypeFire
	EventTypeHit
	EventTypeDestroyed
	EventTypeIncome
	EventTypeMatchEnd
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	Match     uint64          `json:"match"`     // Match number since process start
	Elapsed   int64           `json:"elapsedMs"` // Match-elapsed time
	Faction   Faction         `json:"faction"`   // Source faction (for rate limiting)
	Payload   json.RawMessage `json:"payload"`
}

func (t EventType) String() string {
	switch t {
	case EventTypeMatchStart:
		return "match_start"
	case EventTypePlacement:
		return "placement"
	case EventTypeRejected:
		return "rejected"
	case EventTypeSpawn:
		return "spawn"
	case EventTypeFire:
		return "fire"
	case EventTypeHit:
		return "hit"
	case EventTypeDestroyed:
		return "destroyed"
	case EventTypeIncome:
		return "income"
	case EventTypeMatchEnd:
		return "match_end"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Typed payloads for different event types

// MatchStartPayload records the seed so a match can be replayed.
type MatchStartPayload struct {
	Seed     int64 `json:"seed"`
	Cols     int   `json:"cols"`
	Rows     int   `json:"rows"`
	Duration int64 `json:"durationMs"`
}

// PlacementPayload contains a successful placement
type PlacementPayload struct {
	BuildingID EntityID     `json:"buildingId"`
	Type       BuildingType `json:"type"`
	X          int          `json:"x"`
	Y          int          `json:"y"`
	Cost       int          `json:"cost"`
	CoinsLeft  int          `json:"coinsLeft"`
}

// RejectedPayload contains a refused placement
type RejectedPayload struct {
	Type   BuildingType `json:"type"`
	X      int          `json:"x"`
	Y      int          `json:"y"`
	Reason RejectReason `json:"reason"`
}

// SpawnPayload contains a unit spawn
type SpawnPayload struct {
	UnitID EntityID `json:"unitId"`
	Type   UnitType `json:"type"`
	Home   EntityID `json:"home"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
}

// FirePayload contains a shot
type FirePayload struct {
	BulletID EntityID  `json:"bulletId"`
	Shooter  TargetRef `json:"shooter"`
	Target   TargetRef `json:"target"`
	Damage   int       `json:"damage"`
}

// HitPayload contains damage dealt by a bullet
type HitPayload struct {
	BulletID EntityID  `json:"bulletId"`
	Target   TargetRef `json:"target"`
	Damage   int       `json:"damage"`
	HPLeft   int       `json:"hpLeft"`
}

// DestroyedPayload contains a destroyed building or unit
type DestroyedPayload struct {
	Target TargetRef `json:"target"`
	Type   string    `json:"type"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Score  int       `json:"score"`
}

// IncomePayload contains an income payout
type IncomePayload struct {
	BuildingID EntityID `json:"buildingId"`
	Amount     int      `json:"amount"`
	Coins      int      `json:"coins"`
}

// MatchEndPayload contains the final result
type MatchEndPayload struct {
	Winner        Faction   `json:"winner"`
	Reason        EndReason `json:"reason"`
	PlayerScore   int       `json:"playerScore"`
	OpponentScore int       `json:"opponentScore"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, match uint64, elapsed time.Duration, faction Faction, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Match:     match,
		Elapsed:   elapsed.Milliseconds(),
		Faction:   faction,
		Payload:   EncodePayload(payload),
	}
}
