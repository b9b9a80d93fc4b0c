package metrics

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAlreadyRunning is returned when Run is called on an engine that is
// already running.
var ErrAlreadyRunning = errors.New("statistics engine already running")

const (
	defaultInterval         = time.Second
	defaultQueueCapacity    = 8192
	defaultBufferSize       = 3600
	defaultSubscriberBuffer = 16
	defaultMaxEndpoints     = 1000
	defaultMemoryInterval   = time.Second
	defaultMemoryTimeout    = 250 * time.Millisecond
)

// DefaultPeriods are the summary windows reported when none are configured,
// measured in intervals.
var DefaultPeriods = map[string]int{
	"second": 1,
	"minute": 60,
	"hour":   3600,
}

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Interval         time.Duration           // tick cadence
	QueueCapacity    int                     // ingest queue size
	DrainBatch       int                     // max events folded per drain (defaults to QueueCapacity)
	BufferSize       int                     // default history capacity per type
	BufferSizes      map[MeasurementType]int // per-type capacity overrides
	SubscriberBuffer int                     // per-subscriber delivery buffer
	MaxEndpoints     int                     // distinct endpoints tracked before folding into "other"
	Periods          map[string]int          // summary windows, in intervals
	MemoryReader     MemoryReader            // nil disables memory sampling
	MemoryInterval   time.Duration
	MemoryTimeout    time.Duration
	Clock            quartz.Clock
	Logger           *zap.Logger
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = defaultQueueCapacity
	}
	if o.DrainBatch <= 0 {
		o.DrainBatch = o.QueueCapacity
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = defaultSubscriberBuffer
	}
	if o.MaxEndpoints <= 0 {
		o.MaxEndpoints = defaultMaxEndpoints
	}
	if o.Periods == nil {
		o.Periods = DefaultPeriods
	}
	if o.MemoryInterval <= 0 {
		o.MemoryInterval = o.Interval
		if o.MemoryInterval <= 0 {
			o.MemoryInterval = defaultMemoryInterval
		}
	}
	if o.MemoryTimeout <= 0 {
		o.MemoryTimeout = defaultMemoryTimeout
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o Options) bufferSize(t MeasurementType) int {
	if n, ok := o.BufferSizes[t]; ok && n > 0 {
		return n
	}
	return o.BufferSize
}

// period is a named summary window.
type period struct {
	name      string
	intervals int
}

// Engine ingests measurement events, closes one interval per tick, keeps a
// bounded history per measurement type and republishes every closed
// interval to live subscribers.
//
// Any number of goroutines may call Record. A single goroutine (Run, or a
// caller driving Tick directly) owns every mutation of the aggregation state.
type Engine struct {
	opts      Options
	clock     quartz.Clock
	logger    *zap.Logger
	queue     *queue
	hub       *Hub
	rings     map[MeasurementType]*Ring[Snapshot]
	periods   []period
	startedAt time.Time

	tickMu sync.Mutex   // serializes folding and rotation
	mu     sync.RWMutex // guards agg against concurrent queries
	agg    *aggregator

	memoryBytes atomic.Int64 // -1 while unavailable
	malformed   atomic.Uint64
	suppressed  atomic.Uint64
	warnLimit   *rate.Limiter

	running      atomic.Bool
	closed       atomic.Bool
	closeOnce    sync.Once
	shutdownOnce sync.Once
	done         chan struct{}
	stopped      chan struct{}
}

// New constructs an Engine. The ring buffers are allocated immediately so the
// history footprint is fixed from the start.
func New(opts Options) *Engine {
	opts.normalize()

	e := &Engine{
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger,
		queue:     newQueue(opts.QueueCapacity),
		hub:       NewHub(opts.SubscriberBuffer),
		rings:     make(map[MeasurementType]*Ring[Snapshot], len(MeasurementTypes)),
		startedAt: opts.Clock.Now(),
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 5),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	e.memoryBytes.Store(-1)
	for _, t := range MeasurementTypes {
		e.rings[t] = NewRing[Snapshot](opts.bufferSize(t))
	}
	for name, n := range opts.Periods {
		if n > 0 {
			e.periods = append(e.periods, period{name: name, intervals: n})
		}
	}
	sort.Slice(e.periods, func(i, j int) bool {
		if e.periods[i].intervals == e.periods[j].intervals {
			return e.periods[i].name < e.periods[j].name
		}
		return e.periods[i].intervals < e.periods[j].intervals
	})
	e.agg = newAggregator(e.startedAt, opts.MaxEndpoints, e.reportMalformed)
	return e
}

// Record enqueues ev for aggregation. It never blocks: when the ingest queue
// is full the event is dropped and counted. Events recorded after Close are
// ignored.
func (e *Engine) Record(ev Event) {
	if e == nil || e.closed.Load() {
		return
	}
	e.queue.offer(ev)
}

// Dropped returns the number of events discarded because the ingest queue was
// full.
func (e *Engine) Dropped() uint64 {
	return e.queue.dropped.Load()
}

// Subscribe registers a live feed consumer. With no types the subscriber
// receives every snapshot.
func (e *Engine) Subscribe(types ...MeasurementType) (*Subscriber, error) {
	return e.hub.Subscribe(types...)
}

// Unsubscribe removes sub from the fan-out set and closes its channel.
func (e *Engine) Unsubscribe(sub *Subscriber) {
	e.hub.Unsubscribe(sub)
}

// Interval returns the tick cadence.
func (e *Engine) Interval() time.Duration {
	return e.opts.Interval
}

// Run drives the tick clock and folds queued events until ctx is cancelled or
// Close is called. On return the queue has been discarded and every
// subscriber channel closed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.stopped)

	ticker := e.clock.NewTicker(e.opts.Interval, "metrics", "tick")
	defer ticker.Stop()

	samplerCtx, cancelSampler := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if e.opts.MemoryReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.sampleMemory(samplerCtx)
		}()
	}

	e.logger.Info("statistics engine started",
		zap.Duration("interval", e.opts.Interval),
		zap.Int("queue_capacity", e.opts.QueueCapacity),
		zap.Int("buffer_size", e.opts.BufferSize),
	)

	defer func() {
		cancelSampler()
		wg.Wait()
		e.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case <-ticker.C:
			e.Tick()
		case ev := <-e.queue.events:
			e.ingest(ev)
		}
	}
}

// Close stops the engine. If Run is active Close waits for it to return.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	if e.running.Load() {
		<-e.stopped
		return
	}
	e.shutdown()
}

func (e *Engine) shutdown() {
	e.shutdownOnce.Do(func() {
		e.closed.Store(true)
		e.tickMu.Lock()
		discarded := e.queue.discard()
		e.tickMu.Unlock()
		e.hub.Close()
		e.logger.Info("statistics engine stopped", zap.Int("discarded_events", discarded))
	})
}

// Tick closes the current interval: it folds up to DrainBatch queued events,
// freezes one snapshot per measurement type into history and publishes them.
// Events left in the queue are kept for the next interval.
//
// Run calls Tick on every clock tick. Embedders that schedule intervals
// themselves may call it directly instead of starting Run.
func (e *Engine) Tick() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.closed.Load() {
		return
	}
	defer e.recoverPanic("tick")

	e.fold(nil, e.opts.DrainBatch)
	snaps := e.rotate(e.clock.Now())
	e.hub.Publish(snaps...)
}

// rotate freezes the open interval and pushes its snapshots into history
// while queries are held off, so a summary never sees a partial rotation.
func (e *Engine) rotate(now time.Time) []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snaps := e.agg.rotate(now)
	for _, snap := range snaps {
		e.rings[snap.Type].Push(snap)
	}
	return snaps
}

// ingest folds first plus any further queued events up to DrainBatch.
func (e *Engine) ingest(first Event) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	defer e.recoverPanic("ingest")
	e.fold(&first, e.opts.DrainBatch)
}

func (e *Engine) fold(first *Event, limit int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	if first != nil {
		e.agg.fold(*first)
		n++
	}
	for n < limit {
		ev, ok := e.queue.poll()
		if !ok {
			break
		}
		e.agg.fold(ev)
		n++
	}
	return n
}

func (e *Engine) recoverPanic(stage string) {
	if r := recover(); r != nil {
		e.malformed.Add(1)
		e.logger.Error("statistics aggregation recovered from panic",
			zap.String("stage", stage),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
	}
}

func (e *Engine) reportMalformed(ev Event, reason string) {
	e.malformed.Add(1)
	if !e.warnLimit.Allow() {
		e.suppressed.Add(1)
		return
	}
	e.logger.Warn("malformed measurement event",
		zap.Stringer("kind", ev.Kind),
		zap.String("reason", reason),
		zap.String("endpoint", ev.Endpoint),
		zap.Int("status", ev.Status),
		zap.Duration("duration", ev.Duration),
		zap.Int64("bytes", ev.Bytes),
		zap.Uint64("suppressed", e.suppressed.Swap(0)),
	)
}

func (e *Engine) sampleMemory(ctx context.Context) {
	ticker := e.clock.NewTicker(e.opts.MemoryInterval, "metrics", "memory")
	defer ticker.Stop()

	e.readMemory(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.readMemory(ctx)
		}
	}
}

// readMemory asks the MemoryReader for a reading, giving up after
// MemoryTimeout. A successful reading is fed back through Record.
func (e *Engine) readMemory(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.MemoryTimeout)
	defer cancel()

	type result struct {
		bytes uint64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := e.opts.MemoryReader.ReadMemory(ctx)
		ch <- result{bytes: v, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		res.err = ctx.Err()
	case res = <-ch:
	}

	if res.err != nil {
		if e.memoryBytes.Swap(-1) != -1 || e.warnLimit.Allow() {
			e.logger.Warn("memory usage unavailable", zap.Error(res.err))
		}
		return
	}

	v := res.bytes
	if v > math.MaxInt64 {
		v = math.MaxInt64
	}
	e.memoryBytes.Store(int64(v))
	e.Record(MemorySample(int64(v)))
}
