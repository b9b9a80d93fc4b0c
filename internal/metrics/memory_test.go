package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func TestReadMemoryTimeoutMarksUnavailable(t *testing.T) {
	blocking := MemoryReaderFunc(func(ctx context.Context) (uint64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	e := New(Options{
		Clock:         quartz.NewMock(t),
		MemoryReader:  blocking,
		MemoryTimeout: 10 * time.Millisecond,
	})
	defer e.Close()

	start := time.Now()
	e.readMemory(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected read to give up quickly, took %s", elapsed)
	}

	s := e.Summary()
	if s.MemoryBytes != nil {
		t.Errorf("expected memory to be unavailable, got %d", *s.MemoryBytes)
	}
	if s.QueueDepth != 0 {
		t.Errorf("expected no memory sample queued, got depth %d", s.QueueDepth)
	}
}

func TestReadMemoryRecordsSample(t *testing.T) {
	calls := 0
	reader := MemoryReaderFunc(func(context.Context) (uint64, error) {
		calls++
		if calls == 2 {
			return 0, errors.New("proc unavailable")
		}
		return 4096, nil
	})
	e := New(Options{Clock: quartz.NewMock(t), MemoryReader: reader})
	defer e.Close()

	e.readMemory(context.Background())
	s := e.Summary()
	if s.MemoryBytes == nil || *s.MemoryBytes != 4096 {
		t.Fatalf("expected 4096 bytes, got %v", s.MemoryBytes)
	}

	e.Tick()
	mem, ok := e.rings[TypeMemory].Latest()
	if !ok || mem.Count != 1 || mem.Max != 4096 {
		t.Errorf("expected one 4096 byte sample, got %+v", mem)
	}

	e.readMemory(context.Background())
	if s := e.Summary(); s.MemoryBytes != nil {
		t.Errorf("expected a failed read to clear the reading, got %d", *s.MemoryBytes)
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	e := New(Options{Clock: quartz.NewMock(t)})
	defer e.Close()

	e.agg.malformed = func(Event, string) { panic("boom") }
	e.Record(MemorySample(-1))
	e.Tick()

	if got := e.malformed.Load(); got != 1 {
		t.Errorf("expected the panic to be counted, got %d", got)
	}

	// The engine keeps working after the fault.
	e.agg.malformed = e.reportMalformed
	e.Record(RequestStarted())
	e.Tick()
	if got := e.Summary().Requests; got != 1 {
		t.Errorf("expected 1 request after recovery, got %d", got)
	}
}

func TestAccumulatorPercentiles(t *testing.T) {
	a := newAccumulator(true)
	for i := uint64(1); i <= 100; i++ {
		a.add(i * 1000)
	}
	s := a.stats()
	if s.P50 < 49000 || s.P50 > 51000 {
		t.Errorf("expected P50 ~50ms, got %dµs", s.P50)
	}
	if s.P99 < 98000 || s.P99 > 100000 {
		t.Errorf("expected P99 ~99ms, got %dµs", s.P99)
	}
	if s.Mean != 50500 {
		t.Errorf("expected mean 50500, got %f", s.Mean)
	}

	a.reset()
	if s := a.stats(); s.Count != 0 || s.P50 != 0 {
		t.Errorf("expected reset accumulator, got %+v", s)
	}
}
