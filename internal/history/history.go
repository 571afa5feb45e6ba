// Package history persists finished match results.
//
// Records live in a single JSON property of the platform data directory
// managed by gdata, capped to the most recent Capacity entries.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"skirmish/internal/game"

	"github.com/quasilyte/gdata/v2"
	"github.com/rs/zerolog"
)

const (
	recordsObject   = "history"
	recordsProperty = "matches"

	// DefaultCapacity bounds how many matches are kept.
	DefaultCapacity = 500
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("history: store closed")

// Backend is the subset of *gdata.Manager the store needs.
type Backend interface {
	ObjectPropExists(objectKey, propKey string) bool
	LoadObjectProp(objectKey, propKey string) ([]byte, error)
	SaveObjectProp(objectKey, propKey string, data []byte) error
}

// Options configures a Store.
type Options struct {
	Capacity int
	Logger   zerolog.Logger
}

// Summary aggregates results across stored matches.
type Summary struct {
	Matches       int `json:"matches"`
	PlayerWins    int `json:"playerWins"`
	OpponentWins  int `json:"opponentWins"`
	Draws         int `json:"draws"`
	StrongholdWin int `json:"strongholdWins"` // matches decided by a stronghold kill
}

// Store is a bounded, persistent list of match results. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	backend  Backend
	records  []game.MatchResult // oldest first
	capacity int
	closed   bool
	logger   zerolog.Logger
}

// Open creates a store backed by the gdata directory of appName.
func Open(appName string, opts Options) (*Store, error) {
	m, err := gdata.Open(gdata.Config{AppName: appName})
	if err != nil {
		return nil, fmt.Errorf("open gdata %q: %w", appName, err)
	}
	return NewStore(m, opts)
}

// NewStore creates a store over backend and loads any saved records.
func NewStore(backend Backend, opts Options) (*Store, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	s := &Store{
		backend:  backend,
		capacity: opts.Capacity,
		logger:   opts.Logger.With().Str("component", "history").Logger(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if !s.backend.ObjectPropExists(recordsObject, recordsProperty) {
		return nil
	}
	data, err := s.backend.LoadObjectProp(recordsObject, recordsProperty)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	var records []game.MatchResult
	if err := json.Unmarshal(data, &records); err != nil {
		// A corrupt file should not keep the server down; start over.
		s.logger.Warn().Err(err).Msg("discarding unreadable history")
		return nil
	}
	if len(records) > s.capacity {
		records = records[len(records)-s.capacity:]
	}
	s.records = records
	s.logger.Debug().Int("records", len(records)).Msg("history loaded")
	return nil
}

// Record appends a result and persists the list.
func (s *Store) Record(r game.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	// Build the next list aside so a failed save leaves s.records untouched.
	keep := s.records
	if over := len(keep) + 1 - s.capacity; over > 0 {
		keep = keep[over:]
	}
	next := make([]game.MatchResult, 0, len(keep)+1)
	next = append(append(next, keep...), r)

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.backend.SaveObjectProp(recordsObject, recordsProperty, data); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	s.records = next
	return nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]game.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]game.MatchResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Summary tallies every stored match.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{Matches: len(s.records)}
	for _, r := range s.records {
		switch r.Winner {
		case game.FactionPlayer:
			sum.PlayerWins++
		case game.FactionOpponent:
			sum.OpponentWins++
		default:
			sum.Draws++
		}
		if r.Reason == game.EndStrongholdDestroyed {
			sum.StrongholdWin++
		}
	}
	return sum
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close rejects further writes. Every Record is already persisted.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// MemoryBackend keeps properties in memory. Useful for headless runs and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	props map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{props: make(map[string][]byte)}
}

func (m *MemoryBackend) key(objectKey, propKey string) string {
	return objectKey + "/" + propKey
}

func (m *MemoryBackend) ObjectPropExists(objectKey, propKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.props[m.key(objectKey, propKey)]
	return ok
}

func (m *MemoryBackend) LoadObjectProp(objectKey, propKey string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.props[m.key(objectKey, propKey)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: not found", objectKey, propKey)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) SaveObjectProp(objectKey, propKey string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[m.key(objectKey, propKey)] = append([]byte(nil), data...)
	return nil
}
