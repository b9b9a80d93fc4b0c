package metrics

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Response times are tracked from 1µs up to 60s with 3 significant figures.
	histogramLowest  = 1
	histogramHighest = 60_000_000
	histogramSigFigs = 3
)

// Stats is the finalized value of one accumulator.
type Stats struct {
	Count uint64  `json:"count"`
	Sum   uint64  `json:"sum"`
	Min   uint64  `json:"min"`
	Max   uint64  `json:"max"`
	Mean  float64 `json:"mean"`

	// Percentiles are only populated for response times.
	P50 uint64 `json:"p50,omitempty"`
	P90 uint64 `json:"p90,omitempty"`
	P99 uint64 `json:"p99,omitempty"`
}

// Merge folds other into s. Percentiles cannot be combined from summaries and
// are cleared.
func (s Stats) Merge(other Stats) Stats {
	if other.Count == 0 {
		s.P50, s.P90, s.P99 = 0, 0, 0
		return s
	}
	if s.Count == 0 || other.Min < s.Min {
		s.Min = other.Min
	}
	if other.Max > s.Max {
		s.Max = other.Max
	}
	s.Count = saturatingAdd(s.Count, other.Count)
	s.Sum = saturatingAdd(s.Sum, other.Sum)
	s.Mean = float64(s.Sum) / float64(s.Count)
	s.P50, s.P90, s.P99 = 0, 0, 0
	return s
}

// Snapshot is the immutable result of one closed interval for one type.
type Snapshot struct {
	Seq        uint64          `json:"seq"`
	Type       MeasurementType `json:"type"`
	Start      time.Time       `json:"start"`
	Duration   time.Duration   `json:"-"`
	DurationMs float64         `json:"duration_ms"`
	Stats

	// Codes and Bytes are set on responses snapshots.
	Codes map[string]uint64 `json:"codes,omitempty"`
	Bytes uint64            `json:"bytes,omitempty"`

	// Endpoints is set on endpoints snapshots.
	Endpoints map[string]Stats `json:"endpoints,omitempty"`
}

// accumulator holds the running values of the current interval. It is owned
// by the aggregator and never shared.
type accumulator struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
	hist  *hdrhistogram.Histogram
}

func newAccumulator(withPercentiles bool) *accumulator {
	a := &accumulator{}
	if withPercentiles {
		a.hist = hdrhistogram.New(histogramLowest, histogramHighest, histogramSigFigs)
	}
	return a
}

func (a *accumulator) add(v uint64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
	a.count++
	a.sum = saturatingAdd(a.sum, v)

	if a.hist != nil {
		rv := int64(histogramHighest)
		if v < uint64(histogramHighest) {
			rv = int64(v)
		}
		if rv < a.hist.LowestTrackableValue() {
			rv = a.hist.LowestTrackableValue()
		}
		_ = a.hist.RecordValue(rv)
	}
}

func (a *accumulator) stats() Stats {
	s := Stats{
		Count: a.count,
		Sum:   a.sum,
		Min:   a.min,
		Max:   a.max,
	}
	if a.count > 0 {
		s.Mean = float64(a.sum) / float64(a.count)
	}
	if a.hist != nil && a.hist.TotalCount() > 0 {
		s.P50 = uint64(a.hist.ValueAtQuantile(50))
		s.P90 = uint64(a.hist.ValueAtQuantile(90))
		s.P99 = uint64(a.hist.ValueAtQuantile(99))
	}
	return s
}

func (a *accumulator) reset() {
	a.count, a.sum, a.min, a.max = 0, 0, 0, 0
	if a.hist != nil {
		a.hist.Reset()
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
