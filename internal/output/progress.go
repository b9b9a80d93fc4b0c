package output

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/tickstat/internal/metrics"
)

// SummaryFunc fetches the current statistics, typically from a remote server.
type SummaryFunc func(ctx context.Context) (metrics.Summary, error)

// ProgressReporter polls a summary source and rewrites a one-line status.
type ProgressReporter struct {
	fetch    SummaryFunc
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	cancel   context.CancelFunc
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(fetch SummaryFunc, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		fetch:    fetch,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

// Stop halts progress updates and waits for the last one to finish.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.cancel()
		<-p.finished
	}
}

func (p *ProgressReporter) run(ctx context.Context) {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.report(ctx)
	for {
		select {
		case <-ticker.C:
			p.report(ctx)
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) report(ctx context.Context) {
	s, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(p.writer, "\rError: %v", err)
		}
		return
	}
	fmt.Fprint(p.writer, "\r"+ProgressLine(s))
}

// ProgressLine formats the one-line status shown while following a server.
func ProgressLine(s metrics.Summary) string {
	line := fmt.Sprintf("Requests: %d | Responses: %d | In Flight: %d | RPS: %.1f | Connections: %d",
		s.Requests, s.Responses, s.InFlight, s.RequestsPerSec, s.Connections)
	if times, ok := s.Current[metrics.TypeTimes]; ok && times.Count > 0 {
		line += fmt.Sprintf(" | Mean: %s", micros(times.Mean))
	}
	if names := endpointsByCount(s.Endpoints); len(names) > 0 && s.Responses > 0 {
		ep := s.Endpoints[names[0]]
		share := (float64(ep.Count) / float64(s.Responses)) * 100
		line += fmt.Sprintf(" | Top Endpoint: %s (%.0f%%)", names[0], share)
	}
	if s.DroppedEvents > 0 {
		line += fmt.Sprintf(" | Dropped: %d", s.DroppedEvents)
	}
	return line
}
