package metrics

import (
	"fmt"
	"time"
)

// AllPeriod is the summary window covering the whole engine lifetime.
const AllPeriod = "all"

// Summary is a point-in-time view of the engine: lifetime totals, the open
// interval's partial values, the latest closed snapshot per type and the
// engine's own health counters.
type Summary struct {
	StartedAt      time.Time `json:"started_at"`
	LastInterval   time.Time `json:"last_interval"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	Interval       float64   `json:"interval_seconds"`
	Active         bool      `json:"active"`
	InFlight       uint64    `json:"in_flight"`
	Connections    uint64    `json:"open_connections"`
	Requests       uint64    `json:"requests"`
	Responses      uint64    `json:"responses"`
	RequestsPerSec float64   `json:"requests_per_sec"`

	Codes map[string]uint64 `json:"codes"`
	Bytes uint64            `json:"bytes"`

	// Per-period aggregates keyed by period name, plus AllPeriod.
	Times            map[string]Stats `json:"times"`
	ConnectionLevels map[string]Stats `json:"connections"`
	Memory           map[string]Stats `json:"memory"`
	Endpoints        map[string]Stats `json:"endpoints"`

	Current map[MeasurementType]Stats    `json:"current"`
	Latest  map[MeasurementType]Snapshot `json:"latest"`

	DroppedEvents   uint64  `json:"dropped_event_count"`
	MalformedEvents uint64  `json:"malformed_event_count"`
	MemoryBytes     *uint64 `json:"memory_bytes"`
	QueueDepth      int     `json:"queue_depth"`
	QueueCapacity   int     `json:"queue_capacity"`
	Subscribers     int     `json:"subscribers"`
}

// Summary returns the current statistics. The aggregation state is copied
// under a short read lock; rotation can never be observed half done.
func (e *Engine) Summary() Summary {
	now := e.clock.Now()
	s := Summary{
		StartedAt:        e.startedAt,
		UptimeSeconds:    now.Sub(e.startedAt).Seconds(),
		Interval:         e.opts.Interval.Seconds(),
		Active:           e.running.Load() && !e.closed.Load(),
		Codes:            make(map[string]uint64),
		Times:            make(map[string]Stats, len(e.periods)+1),
		ConnectionLevels: make(map[string]Stats, len(e.periods)+1),
		Memory:           make(map[string]Stats, len(e.periods)+1),
		Endpoints:        make(map[string]Stats),
		Latest:           make(map[MeasurementType]Snapshot, len(MeasurementTypes)),
		DroppedEvents:    e.Dropped(),
		MalformedEvents:  e.malformed.Load(),
		QueueDepth:       e.queue.depth(),
		QueueCapacity:    e.queue.capacity(),
		Subscribers:      e.hub.Len(),
	}
	if v := e.memoryBytes.Load(); v >= 0 {
		mb := uint64(v)
		s.MemoryBytes = &mb
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	a := e.agg
	s.LastInterval = a.lastClosed
	s.InFlight = a.inFlight
	s.Connections = a.openConns
	s.Requests = a.totals.requests
	s.Responses = a.totals.responses
	s.Bytes = a.totals.bytes
	for code, n := range a.totals.codes {
		s.Codes[code] = n
	}
	for name, acc := range a.totals.endpoints {
		s.Endpoints[name] = acc.stats()
	}
	s.Current = a.current()

	for _, t := range MeasurementTypes {
		if snap, ok := e.rings[t].Latest(); ok {
			s.Latest[t] = snap
		}
	}
	if snap, ok := s.Latest[TypeRequests]; ok && snap.Duration > 0 {
		s.RequestsPerSec = float64(snap.Count) / snap.Duration.Seconds()
	}

	for _, p := range e.periods {
		s.Times[p.name] = e.window(TypeTimes, p.intervals)
		s.ConnectionLevels[p.name] = e.window(TypeConnections, p.intervals)
		s.Memory[p.name] = e.window(TypeMemory, p.intervals)
	}
	s.Times[AllPeriod] = a.totals.times.stats()
	s.ConnectionLevels[AllPeriod] = a.totals.connections.stats()
	s.Memory[AllPeriod] = a.totals.memory.stats()
	return s
}

// window merges the most recent n closed snapshots of type t.
func (e *Engine) window(t MeasurementType, n int) Stats {
	var out Stats
	e.rings[t].Scan(n, func(snap Snapshot) bool {
		out = out.Merge(snap.Stats)
		return true
	})
	return out
}

// Unlimited is the History and HistorySince limit that returns every
// retained snapshot.
const Unlimited = -1

// History returns up to limit closed snapshots of type t in chronological
// order, starting at logical index from (0 is the oldest retained). A
// negative limit returns everything from from onwards; a zero limit returns
// nothing. Range arguments are clamped and never produce an error.
func (e *Engine) History(t MeasurementType, from, limit int) ([]Snapshot, error) {
	ring, ok := e.rings[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeasurementType, t)
	}
	if limit < 0 {
		limit = ring.Cap()
	}
	return ring.ReadRange(from, limit), nil
}

// HistorySince returns up to limit closed snapshots of type t whose interval
// started at or after since, oldest first. A negative limit means no limit.
func (e *Engine) HistorySince(t MeasurementType, since time.Time, limit int) ([]Snapshot, error) {
	ring, ok := e.rings[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeasurementType, t)
	}

	var newest []Snapshot
	ring.Scan(0, func(snap Snapshot) bool {
		if snap.Start.Before(since) {
			return false
		}
		newest = append(newest, snap)
		return true
	})

	out := make([]Snapshot, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		out = append(out, newest[i])
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Capacity returns the history capacity for type t.
func (e *Engine) Capacity(t MeasurementType) (int, error) {
	ring, ok := e.rings[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMeasurementType, t)
	}
	return ring.Cap(), nil
}

// Enabled reports whether the engine is accepting events.
func (e *Engine) Enabled() bool {
	return e != nil && !e.closed.Load()
}
