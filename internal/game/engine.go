package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Phase is the match controller state.
type Phase uint8

const (
	PhaseRunning Phase = iota
	PhaseEnded
)

func (p Phase) String() string {
	if p == PhaseEnded {
		return "ended"
	}
	return "running"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// EndReason explains how a match ended.
type EndReason uint8

const (
	EndNone EndReason = iota
	EndStrongholdDestroyed
	EndTimeout
)

func (r EndReason) String() string {
	switch r {
	case EndStrongholdDestroyed:
		return "stronghold_destroyed"
	case EndTimeout:
		return "timeout"
	default:
		return ""
	}
}

func (r EndReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *EndReason) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*r = EndNone
	case "stronghold_destroyed":
		*r = EndStrongholdDestroyed
	case "timeout":
		*r = EndTimeout
	default:
		return fmt.Errorf("unknown end reason %q", text)
	}
	return nil
}

// MatchStatus is the match-status query result.
type MatchStatus struct {
	Match     uint64    `json:"match"`
	Seed      int64     `json:"seed"`
	Phase     Phase     `json:"phase"`
	Winner    Faction   `json:"winner"` // "none" while running or on a draw
	Reason    EndReason `json:"reason"`
	Elapsed   float64   `json:"elapsed"`   // seconds
	Remaining float64   `json:"remaining"` // seconds

	PlayerScore   int `json:"playerScore"`
	OpponentScore int `json:"opponentScore"`
	PlayerCoins   int `json:"playerCoins"`
	OpponentCoins int `json:"opponentCoins"`
}

// MatchResult is handed to the OnMatchEnd callback and stored in history.
type MatchResult struct {
	Match         uint64        `json:"match"`
	Seed          int64         `json:"seed"`
	Winner        Faction       `json:"winner"`
	Reason        EndReason     `json:"reason"`
	PlayerScore   int           `json:"playerScore"`
	OpponentScore int           `json:"opponentScore"`
	Duration      time.Duration `json:"duration"`
	EndedAt       time.Time     `json:"endedAt"`
}

// PlacementResult is the outcome of a placement command.
type PlacementResult struct {
	Success  bool              `json:"success"`
	Building *BuildingSnapshot `json:"building,omitempty"`
	Reason   RejectReason      `json:"reason,omitempty"`
	Err      error             `json:"-"`
}

// EngineConfig holds configuration for the game engine.
type EngineConfig struct {
	TickRate int    // ticks per second
	Rules    *Rules // nil uses DefaultRules
	Seed     int64  // 0 picks a time-based seed
	Clock    Clock  // nil uses SystemClock
	Limits   ResourceLimits
	Logger   zerolog.Logger
	Metrics  Metrics // nil disables instrumentation

	// Autoplay runs the build heuristic for the player faction too, so a
	// match can play out without any input.
	Autoplay bool
}

// Engine is the match controller. It owns the World and advances every
// subsystem once per tick in a fixed order. All World mutation happens under
// mu, inside Tick or Place.
type Engine struct {
	mu    sync.RWMutex
	world *World
	rules *Rules

	clock     Clock
	startedAt time.Time
	lastTick  time.Duration // match-elapsed time of the previous tick
	endedAt   time.Duration

	phase  Phase
	winner Faction
	reason EndReason
	match  uint64

	// Deterministic RNG for replay consistency
	rng  *rand.Rand
	seed int64

	opponent     *Strategy
	autopilot    *Strategy
	lastOpponent time.Duration

	tickRate  int
	tickCount uint64
	running   bool
	ticker    *time.Ticker
	stopChan  chan struct{}

	limits   ResourceLimits
	snapshot atomic.Pointer[GameSnapshot]
	sequence uint64

	onMatchEnd func(MatchResult)

	eventLog    *EventLog
	startLogged bool // current match's match_start reached the event log
	metrics     Metrics
	logger      zerolog.Logger
}

// NewEngine creates a match controller and sets up the first match.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Limits.MaxUnits <= 0 || cfg.Limits.MaxBullets <= 0 {
		cfg.Limits = DefaultLimits
	}

	e := &Engine{
		rules:    cfg.Rules,
		clock:    cfg.Clock,
		tickRate: cfg.TickRate,
		limits:   cfg.Limits,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "engine").Logger(),
		eventLog: NewEventLog(cfg.Logger),
		opponent: NewStrategy(FactionOpponent, cfg.Rules),
	}
	if cfg.Autoplay {
		e.autopilot = NewStrategy(FactionPlayer, cfg.Rules)
	}

	e.mu.Lock()
	e.resetLocked(cfg.Seed)
	e.mu.Unlock()
	return e
}

// resetLocked discards the current world and begins a new match.
func (e *Engine) resetLocked(seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e.seed = seed
	e.rng = rand.New(rand.NewSource(seed))
	e.match++
	e.startedAt = e.clock.Now()
	e.lastTick = 0
	e.lastOpponent = 0
	e.endedAt = 0
	e.phase = PhaseRunning
	e.winner = FactionNone
	e.reason = EndNone
	e.tickCount = 0

	e.world = NewWorld(e.rules, e.limits)
	e.world.SetupMatch(0)

	e.startLogged = false
	e.logMatchStartLocked()
	e.publishLocked()
}

// logMatchStartLocked emits match_start for the current match once. The first
// match begins in NewEngine, before the event log can be started, so
// StartEventLog calls this again.
func (e *Engine) logMatchStartLocked() {
	if e.startLogged {
		return
	}
	e.startLogged = e.eventLog.EmitSimple(EventTypeMatchStart, e.match, 0, FactionNone, MatchStartPayload{
		Seed:     e.seed,
		Cols:     e.rules.Cols,
		Rows:     e.rules.Rows,
		Duration: e.rules.MatchDuration.Milliseconds(),
	})
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	ticker := time.NewTicker(time.Second / time.Duration(e.tickRate))
	stop := make(chan struct{})
	e.ticker, e.stopChan = ticker, stop
	match, seed := e.match, e.seed
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				e.Tick()
			case <-stop:
				return
			}
		}
	}()

	e.logger.Info().Int("tps", e.tickRate).Uint64("match", match).Int64("seed", seed).Msg("game engine started")
}

// Stop stops the game loop. A tick in progress completes first. The engine
// can be started again afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	e.running = false
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stopChan)
	e.logger.Info().Msg("game engine stopped")
}

// Restart abandons the current match and starts a fresh one. A zero seed
// picks a new time-based seed.
func (e *Engine) Restart(seed int64) MatchStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.match
	e.resetLocked(seed)
	e.logger.Info().Uint64("previous", prev).Uint64("match", e.match).Int64("seed", e.seed).Msg("match restarted")
	return e.statusLocked()
}

// SetOnMatchEnd registers a callback invoked (in its own goroutine) when a
// match ends.
func (e *Engine) SetOnMatchEnd(fn func(MatchResult)) {
	e.mu.Lock()
	e.onMatchEnd = fn
	e.mu.Unlock()
}

// elapsedLocked samples the clock once and returns match-elapsed time.
func (e *Engine) elapsedLocked() time.Duration {
	if e.phase == PhaseEnded {
		return e.endedAt
	}
	d := e.clock.Now().Sub(e.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Tick advances the match by one step: spawns, building fire, economies,
// opponent strategy on its cadence, unit movement and fire, then bullet
// resolution. Ticks after the match has ended are no-ops.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickLocked()
}

func (e *Engine) tickLocked() {
	if e.phase == PhaseEnded {
		return
	}
	started := time.Now()

	now := e.elapsedLocked()
	dt := (now - e.lastTick).Seconds()
	if dt < 0 {
		dt = 0
	}
	e.lastTick = now
	e.tickCount++
	w := e.world

	// 1. Producers spawn on cadence
	for _, u := range w.SpawnDue(now) {
		e.recordSpawn(u, now)
	}

	// 2. Buildings fire
	for _, s := range w.BuildingsFire(now) {
		e.recordShot(s, now)
	}

	// 3. Both economies
	for _, p := range w.CollectIncome(now) {
		e.eventLog.EmitSimple(EventTypeIncome, e.match, now, p.Owner, IncomePayload{
			BuildingID: p.Building, Amount: p.Amount, Coins: w.Coins(p.Owner),
		})
	}

	// 4. Scripted builders on cadence
	if now-e.lastOpponent > e.rules.OpponentInterval {
		e.lastOpponent = now
		e.runStrategy(e.opponent, now)
		if e.autopilot != nil {
			e.runStrategy(e.autopilot, now)
		}
	}

	// 5. Units move then fire. Nothing is created or removed here, so the
	// unit slice is stable while ranging.
	for _, u := range w.Units() {
		w.AdvanceUnit(u, dt, e.rng)
		if s, ok := w.UnitFire(u, now); ok {
			e.recordShot(s, now)
		}
	}

	// 6. Bullets resolve
	for _, h := range w.ResolveBullets(dt) {
		e.recordHit(h, now)
		if h.StrongholdFell() {
			e.endLocked(h.Bullet.Owner, EndStrongholdDestroyed, now)
		}
	}

	if e.phase == PhaseRunning && now >= e.rules.MatchDuration {
		winner := FactionNone
		switch ps, os := w.Score(FactionPlayer), w.Score(FactionOpponent); {
		case ps > os:
			winner = FactionPlayer
		case os > ps:
			winner = FactionOpponent
		}
		e.endLocked(winner, EndTimeout, now)
	}

	e.publishLocked()

	e.metrics.ObserveTick(time.Since(started))
	e.metrics.SetPopulation(len(w.Buildings()), len(w.Units()), len(w.Bullets()))
}

func (e *Engine) runStrategy(s *Strategy, now time.Duration) {
	b, ok := s.Run(e.world, now, e.rng)
	if !ok {
		return
	}
	e.recordPlacement(b, now)
}

// endLocked moves the match to Ended and fires the OnMatchEnd callback.
func (e *Engine) endLocked(winner Faction, reason EndReason, now time.Duration) {
	if e.phase == PhaseEnded {
		return
	}
	e.phase = PhaseEnded
	e.winner = winner
	e.reason = reason
	e.endedAt = now

	result := MatchResult{
		Match:         e.match,
		Seed:          e.seed,
		Winner:        winner,
		Reason:        reason,
		PlayerScore:   e.world.Score(FactionPlayer),
		OpponentScore: e.world.Score(FactionOpponent),
		Duration:      now,
		EndedAt:       e.startedAt.Add(now),
	}

	e.eventLog.EmitSimple(EventTypeMatchEnd, e.match, now, FactionNone, MatchEndPayload{
		Winner:        winner,
		Reason:        reason,
		PlayerScore:   result.PlayerScore,
		OpponentScore: result.OpponentScore,
	})
	e.metrics.MatchEnded(winner, reason)
	e.logger.Info().
		Uint64("match", e.match).
		Stringer("winner", winner).
		Stringer("reason", reason).
		Int("playerScore", result.PlayerScore).
		Int("opponentScore", result.OpponentScore).
		Dur("elapsed", now).
		Msg("match ended")

	if e.onMatchEnd != nil {
		go e.onMatchEnd(result)
	}
}

// Place applies a placement command between ticks.
func (e *Engine) Place(f Faction, t BuildingType, x, y int) PlacementResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Cell{X: x, Y: y}
	now := e.elapsedLocked()

	var (
		b   *Building
		err error
	)
	if e.phase == PhaseEnded {
		err = &PlacementError{Reason: RejectMatchEnded, Faction: f, Type: t, Cell: c}
	} else {
		b, err = e.world.PlaceBuilding(f, t, c, now)
	}

	if err != nil {
		reason := ReasonOf(err)
		e.metrics.PlacementRejected(f, reason)
		e.eventLog.EmitSimple(EventTypeRejected, e.match, now, f, RejectedPayload{
			Type: t, X: x, Y: y, Reason: reason,
		})
		e.logger.Debug().Err(err).Msg("placement rejected")
		return PlacementResult{Reason: reason, Err: err}
	}

	e.recordPlacement(b, now)
	e.publishLocked()

	snap := buildingSnapshot(b)
	return PlacementResult{Success: true, Building: &snap}
}

func (e *Engine) recordPlacement(b *Building, now time.Duration) {
	stats, _ := e.rules.Building(b.Type)
	e.metrics.PlacementAccepted(b.Owner, b.Type)
	e.eventLog.EmitSimple(EventTypePlacement, e.match, now, b.Owner, PlacementPayload{
		BuildingID: b.ID,
		Type:       b.Type,
		X:          b.Cell.X,
		Y:          b.Cell.Y,
		Cost:       stats.Cost,
		CoinsLeft:  e.world.Coins(b.Owner),
	})
	e.logger.Debug().
		Stringer("faction", b.Owner).
		Stringer("type", b.Type).
		Stringer("cell", b.Cell).
		Msg("building placed")

	// Producers spawn one unit on construction.
	if units := e.world.Units(); len(units) > 0 {
		if u := units[len(units)-1]; u.Home == b.ID {
			e.recordSpawn(u, now)
		}
	}
}

func (e *Engine) recordSpawn(u *Unit, now time.Duration) {
	e.metrics.UnitSpawned(u.Owner, u.Type)
	e.eventLog.EmitSimple(EventTypeSpawn, e.match, now, u.Owner, SpawnPayload{
		UnitID: u.ID, Type: u.Type, Home: u.Home, X: u.Cell.X, Y: u.Cell.Y,
	})
}

func (e *Engine) recordShot(s Shot, now time.Duration) {
	e.metrics.ShotFired(s.Bullet.Owner)
	e.eventLog.EmitSimple(EventTypeFire, e.match, now, s.Bullet.Owner, FirePayload{
		BulletID: s.Bullet.ID, Shooter: s.Shooter, Target: s.Bullet.Target, Damage: s.Bullet.Damage,
	})
}

func (e *Engine) recordHit(h Hit, now time.Duration) {
	e.eventLog.EmitSimple(EventTypeHit, e.match, now, h.Bullet.Owner, HitPayload{
		BulletID: h.Bullet.ID, Target: h.Target, Damage: h.Damage, HPLeft: h.HPLeft,
	})
	if !h.Killed {
		return
	}
	typeName := h.Unit.String()
	if h.Target.Kind == TargetBuilding {
		typeName = h.Building.String()
	}
	e.metrics.EntityDestroyed(h.Target.Kind)
	e.eventLog.EmitSimple(EventTypeDestroyed, e.match, now, h.Bullet.Owner, DestroyedPayload{
		Target: h.Target, Type: typeName, X: h.Cell.X, Y: h.Cell.Y, Score: h.Score,
	})
}

// publishLocked builds a fresh snapshot and swaps it in atomically.
func (e *Engine) publishLocked() {
	snap := e.world.snapshot()
	e.sequence++
	snap.Sequence = e.sequence
	snap.Timestamp = time.Now()
	snap.TickNumber = e.tickCount
	snap.Status = e.statusLocked()
	e.snapshot.Store(snap)
}

// GetSnapshot returns the most recently published snapshot. It never blocks
// on the tick loop.
func (e *Engine) GetSnapshot() *GameSnapshot {
	return e.snapshot.Load()
}

// Status returns the live match status.
func (e *Engine) Status() MatchStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() MatchStatus {
	elapsed := e.elapsedLocked()
	remaining := e.rules.MatchDuration - elapsed
	if remaining < 0 || e.phase == PhaseEnded {
		remaining = 0
	}
	return MatchStatus{
		Match:         e.match,
		Seed:          e.seed,
		Phase:         e.phase,
		Winner:        e.winner,
		Reason:        e.reason,
		Elapsed:       elapsed.Seconds(),
		Remaining:     remaining.Seconds(),
		PlayerScore:   e.world.Score(FactionPlayer),
		OpponentScore: e.world.Score(FactionOpponent),
		PlayerCoins:   e.world.Coins(FactionPlayer),
		OpponentCoins: e.world.Coins(FactionOpponent),
	}
}

// Rules returns a copy of the active rule set.
func (e *Engine) Rules() *Rules {
	return e.rules.Clone()
}

// CheckInvariants verifies the occupancy/entity bijection of the live world.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.world.CheckInvariants(); err != nil {
		return fmt.Errorf("match %d tick %d: %w", e.match, e.tickCount, err)
	}
	return nil
}

// WithWorld runs fn with exclusive access to the world. Intended for tests
// and tooling; fn must not retain the pointer.
func (e *Engine) WithWorld(fn func(w *World)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.world)
	e.publishLocked()
}

// StartEventLog begins writing events to filePath ("" keeps them in memory).
// The running match's match_start is logged if it was missed.
func (e *Engine) StartEventLog(filePath string) error {
	if err := e.eventLog.Start(filePath); err != nil {
		return err
	}
	e.mu.Lock()
	e.logMatchStartLocked()
	e.mu.Unlock()
	return nil
}

// StopEventLog flushes and closes the event log.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// EventLogStats returns the event log counters.
func (e *Engine) EventLogStats() EventLogStats {
	return e.eventLog.Stats()
}

// EventLogCounts returns how many events were accepted and dropped.
func (e *Engine) EventLogCounts() (total, dropped uint64) {
	st := e.eventLog.Stats()
	return st.Total, st.Dropped
}

// RecentEvents returns up to n buffered events, oldest first.
func (e *Engine) RecentEvents(n int) []Event {
	return e.eventLog.Recent(n)
}

// GetLimits returns the resource limits
func (e *Engine) GetLimits() ResourceLimits {
	return e.limits
}

func buildingSnapshot(b *Building) BuildingSnapshot {
	return BuildingSnapshot{
		ID: b.ID, Type: b.Type, Owner: b.Owner,
		X: b.Cell.X, Y: b.Cell.Y,
		HP: b.HP, MaxHP: b.MaxHP,
	}
}

// IsPlacementRejection reports whether err is a placement rejection rather
// than an internal failure.
func IsPlacementRejection(err error) bool {
	var pe *PlacementError
	return errors.As(err, &pe)
}
