package metrics

import (
	"strconv"
	"strings"
	"time"
)

// OtherEndpoint collects endpoints seen after the endpoint limit is reached.
const OtherEndpoint = "other"

const unknownEndpoint = "unknown"

// totals are lifetime values since the engine started.
type totals struct {
	requests    uint64
	responses   uint64
	bytes       uint64
	codes       map[string]uint64
	times       *accumulator
	connections *accumulator
	memory      *accumulator
	endpoints   map[string]*accumulator
}

// aggregator is the state owned by the single writer. Nothing in it is safe
// for concurrent use; the Engine serializes access.
type aggregator struct {
	seq           uint64
	intervalStart time.Time
	lastClosed    time.Time
	maxEndpoints  int
	malformed     func(Event, string)

	// gauges
	inFlight  uint64
	openConns uint64

	// current interval
	requests    *accumulator
	responses   *accumulator
	times       *accumulator
	connections *accumulator
	memory      *accumulator
	codes       map[string]uint64
	bytes       uint64
	endpoints   map[string]*accumulator

	totals totals
}

func newAggregator(start time.Time, maxEndpoints int, malformed func(Event, string)) *aggregator {
	if malformed == nil {
		malformed = func(Event, string) {}
	}
	return &aggregator{
		intervalStart: start,
		maxEndpoints:  maxEndpoints,
		malformed:     malformed,
		requests:      newAccumulator(false),
		responses:     newAccumulator(false),
		times:         newAccumulator(true),
		connections:   newAccumulator(false),
		memory:        newAccumulator(false),
		codes:         make(map[string]uint64),
		endpoints:     make(map[string]*accumulator),
		totals: totals{
			codes:       make(map[string]uint64),
			times:       newAccumulator(true),
			connections: newAccumulator(false),
			memory:      newAccumulator(false),
			endpoints:   make(map[string]*accumulator),
		},
	}
}

// fold applies one event to the open interval and the lifetime totals.
// Out of range values are clamped to zero and reported, never rejected.
func (a *aggregator) fold(ev Event) {
	switch ev.Kind {
	case EventRequestStarted:
		a.inFlight++
		a.totals.requests++
		a.requests.add(a.inFlight)

	case EventRequestCompleted:
		a.foldResponse(ev)

	case EventConnectionOpened:
		a.openConns++
		a.connections.add(a.openConns)
		a.totals.connections.add(a.openConns)

	case EventConnectionClosed:
		if a.openConns == 0 {
			a.malformed(ev, "connection closed with none open")
		} else {
			a.openConns--
		}
		a.connections.add(a.openConns)
		a.totals.connections.add(a.openConns)

	case EventMemorySample:
		v := ev.Bytes
		if v < 0 {
			a.malformed(ev, "negative memory reading")
			v = 0
		}
		a.memory.add(uint64(v))
		a.totals.memory.add(uint64(v))

	default:
		a.malformed(ev, "unknown event kind")
	}
}

func (a *aggregator) foldResponse(ev Event) {
	d := ev.Duration
	if d < 0 {
		a.malformed(ev, "negative duration")
		d = 0
	}
	status := ev.Status
	if status < 100 || status > 599 {
		a.malformed(ev, "status code out of range")
		status = 0
	}
	size := ev.Bytes
	if size < 0 {
		a.malformed(ev, "negative response size")
		size = 0
	}
	endpoint := strings.TrimSpace(ev.Endpoint)
	if endpoint == "" {
		endpoint = unknownEndpoint
	}

	// A completion whose start was dropped by a full queue must not wrap the
	// gauge.
	if a.inFlight > 0 {
		a.inFlight--
	}

	us := uint64(d.Microseconds())
	code := strconv.Itoa(status)

	a.responses.add(us)
	a.times.add(us)
	a.codes[code]++
	a.bytes = saturatingAdd(a.bytes, uint64(size))
	endpointAccumulator(a.endpoints, endpoint, a.maxEndpoints).add(us)

	a.totals.responses++
	a.totals.codes[code]++
	a.totals.bytes = saturatingAdd(a.totals.bytes, uint64(size))
	a.totals.times.add(us)
	endpointAccumulator(a.totals.endpoints, endpoint, a.maxEndpoints).add(us)
}

// endpointAccumulator returns the accumulator for name, folding new names
// into OtherEndpoint once limit distinct endpoints are tracked.
func endpointAccumulator(m map[string]*accumulator, name string, limit int) *accumulator {
	if acc, ok := m[name]; ok {
		return acc
	}
	if len(m) >= limit {
		name = OtherEndpoint
		if acc, ok := m[name]; ok {
			return acc
		}
	}
	acc := newAccumulator(false)
	m[name] = acc
	return acc
}

// rotate freezes the open interval into one snapshot per measurement type and
// opens the next interval at now.
func (a *aggregator) rotate(now time.Time) []Snapshot {
	// Every interval reports the connection level even when nothing changed.
	if a.connections.count == 0 {
		a.connections.add(a.openConns)
	}

	start := a.intervalStart
	dur := now.Sub(start)
	if dur < 0 {
		dur = 0
	}
	a.seq++
	base := Snapshot{
		Seq:        a.seq,
		Start:      start,
		Duration:   dur,
		DurationMs: float64(dur) / float64(time.Millisecond),
	}

	snaps := make([]Snapshot, 0, len(MeasurementTypes))
	for _, t := range MeasurementTypes {
		snap := base
		snap.Type = t
		switch t {
		case TypeRequests:
			snap.Stats = a.requests.stats()
		case TypeResponses:
			snap.Stats = a.responses.stats()
			snap.Bytes = a.bytes
			if len(a.codes) > 0 {
				snap.Codes = a.codes
			}
		case TypeTimes:
			snap.Stats = a.times.stats()
		case TypeConnections:
			snap.Stats = a.connections.stats()
		case TypeMemory:
			snap.Stats = a.memory.stats()
		case TypeEndpoints:
			snap.Stats = a.responses.stats()
			if len(a.endpoints) > 0 {
				snap.Endpoints = make(map[string]Stats, len(a.endpoints))
				for name, acc := range a.endpoints {
					snap.Endpoints[name] = acc.stats()
				}
			}
		}
		snaps = append(snaps, snap)
	}

	a.requests.reset()
	a.responses.reset()
	a.times.reset()
	a.connections.reset()
	a.memory.reset()
	// The old maps now belong to the snapshots.
	a.codes = make(map[string]uint64)
	a.endpoints = make(map[string]*accumulator)
	a.bytes = 0

	a.lastClosed = start
	a.intervalStart = now
	return snaps
}

// current returns the partial values of the open interval.
func (a *aggregator) current() map[MeasurementType]Stats {
	return map[MeasurementType]Stats{
		TypeRequests:    a.requests.stats(),
		TypeResponses:   a.responses.stats(),
		TypeTimes:       a.times.stats(),
		TypeConnections: a.connections.stats(),
		TypeMemory:      a.memory.stats(),
		TypeEndpoints:   a.responses.stats(),
	}
}
