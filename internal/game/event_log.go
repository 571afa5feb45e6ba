package game

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	EventRingSize   = 1024  // events kept in memory
	EventsPerSecond = 10000 // across both factions
	EventsPerSide   = 2000  // per faction, per second

	flushBatch    = 64
	flushInterval = 100 * time.Millisecond
)

// EventLogStats is a point-in-time view of the log counters.
type EventLogStats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// EventLog keeps the most recent match events in a ring and, when started
// with a path, appends them to a JSONL file from a background writer.
// Admission is rate limited overall and per faction; a full ring overwrites
// its oldest unflushed entry.
type EventLog struct {
	mu      sync.Mutex
	ring    [EventRingSize]Event
	head    uint64 // sequence of the newest event
	flushed uint64 // sequence of the newest event handed to the writer

	overall *rate.Limiter
	perSide [factionCount]*rate.Limiter

	path string
	out  *os.File
	buf  *bufio.Writer
	enc  *json.Encoder

	running atomic.Bool
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	logger zerolog.Logger

	total   atomic.Uint64
	dropped atomic.Uint64
}

// NewEventLog returns a stopped log. Emit is a no-op until Start.
func NewEventLog(logger zerolog.Logger) *EventLog {
	el := &EventLog{
		overall: rate.NewLimiter(EventsPerSecond, EventsPerSecond/10),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "eventlog").Logger(),
	}
	for f := range el.perSide {
		el.perSide[f] = rate.NewLimiter(EventsPerSide, EventsPerSide/10)
	}
	return el
}

// Start opens path for appending (skipped when path is empty) and launches
// the writer. Starting a running log does nothing.
func (el *EventLog) Start(path string) error {
	if el.running.Load() {
		return nil
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		el.path, el.out = path, f
		el.buf = bufio.NewWriterSize(f, 32<<10)
		el.enc = json.NewEncoder(el.buf)
	}

	el.running.Store(true)
	el.wg.Add(1)
	go el.run()
	return nil
}

// Stop drains the ring to disk and closes the file. Safe to call twice.
func (el *EventLog) Stop() {
	el.once.Do(func() {
		el.running.Store(false)
		close(el.done)
		el.wg.Wait()

		if el.out == nil {
			return
		}
		if err := el.out.Close(); err != nil {
			el.logger.Warn().Err(err).Str("path", el.path).Msg("close event log")
		}
	})
}

// Emit stamps event with the next sequence number and stores it. It reports
// false when the log is stopped or the event was shed by a rate limit.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() || !el.admit(event.Faction) {
		return false
	}
	el.push(event)
	el.total.Add(1)
	return true
}

// EmitSimple builds the event and emits it.
func (el *EventLog) EmitSimple(t EventType, match uint64, elapsed time.Duration, f Faction, payload interface{}) bool {
	return el.Emit(NewEvent(t, match, elapsed, f, payload))
}

func (el *EventLog) admit(f Faction) bool {
	ok := el.overall.Allow()
	if ok && f < factionCount {
		ok = el.perSide[f].Allow()
	}
	if !ok {
		el.dropped.Add(1)
	}
	return ok
}

func (el *EventLog) push(event Event) {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.head++
	event.Sequence = el.head
	el.ring[el.head%EventRingSize] = event
	if el.head-el.flushed > EventRingSize {
		// Overwrote an event the writer never saw.
		el.flushed = el.head - EventRingSize
		el.dropped.Add(1)
	}
}

func (el *EventLog) run() {
	defer el.wg.Done()

	tick := time.NewTicker(flushInterval)
	defer tick.Stop()
	batch := make([]Event, 0, flushBatch)

	for {
		select {
		case <-tick.C:
			batch = el.drain(batch[:0])
			el.write(batch)
		case <-el.done:
			for batch = el.drain(batch[:0]); len(batch) > 0; batch = el.drain(batch[:0]) {
				el.write(batch)
			}
			return
		}
	}
}

// drain moves up to flushBatch unflushed events into batch.
func (el *EventLog) drain(batch []Event) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	for el.flushed < el.head && len(batch) < flushBatch {
		el.flushed++
		batch = append(batch, el.ring[el.flushed%EventRingSize])
	}
	return batch
}

// write appends batch as newline-delimited JSON. Only the writer goroutine
// touches the encoder.
func (el *EventLog) write(batch []Event) {
	if el.enc == nil || len(batch) == 0 {
		return
	}
	for i := range batch {
		if err := el.enc.Encode(&batch[i]); err != nil {
			el.logger.Error().Err(err).Stringer("type", batch[i].Type).Msg("encode event")
		}
	}
	if err := el.buf.Flush(); err != nil {
		el.logger.Error().Err(err).Str("path", el.path).Msg("write event log")
	}
}

// Recent returns up to n of the newest events, oldest first, whether or not
// they have been written out.
func (el *EventLog) Recent(n int) []Event {
	if n <= 0 {
		return nil
	}
	el.mu.Lock()
	defer el.mu.Unlock()

	n = int(min(uint64(n), el.head, EventRingSize))
	out := make([]Event, 0, n)
	for seq := el.head - uint64(n) + 1; seq <= el.head && len(out) < n; seq++ {
		out = append(out, el.ring[seq%EventRingSize])
	}
	return out
}

// Stats snapshots the counters.
func (el *EventLog) Stats() EventLogStats {
	el.mu.Lock()
	pending := el.head - el.flushed
	el.mu.Unlock()

	return EventLogStats{
		Total:   el.total.Load(),
		Dropped: el.dropped.Load(),
		Pending: pending,
		Running: el.running.Load(),
	}
}
