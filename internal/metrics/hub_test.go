package metrics_test

import (
	"errors"
	"testing"

	"github.com/torosent/tickstat/internal/metrics"
)

func snapshot(seq uint64, typ metrics.MeasurementType) metrics.Snapshot {
	return metrics.Snapshot{Seq: seq, Type: typ}
}

func drain(ch <-chan metrics.Snapshot) []uint64 {
	var seqs []uint64
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return seqs
			}
			seqs = append(seqs, s.Seq)
		default:
			return seqs
		}
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := metrics.NewHub(8)
	sub, err := hub.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := uint64(1); i <= 5; i++ {
		hub.Publish(snapshot(i, metrics.TypeResponses))
	}

	got := drain(sub.C())
	want := []uint64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if sub.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", sub.Dropped())
	}
}

func TestHubSlowSubscriberDropsOldestOnly(t *testing.T) {
	hub := metrics.NewHub(2)
	fast, _ := hub.Subscribe()
	slow, _ := hub.Subscribe()

	var fastSeqs []uint64
	for i := uint64(1); i <= 5; i++ {
		hub.Publish(snapshot(i, metrics.TypeTimes))
		fastSeqs = append(fastSeqs, drain(fast.C())...)
	}

	if len(fastSeqs) != 5 {
		t.Errorf("expected fast subscriber to get 5 snapshots, got %v", fastSeqs)
	}
	if fast.Dropped() != 0 {
		t.Errorf("expected fast subscriber to drop nothing, got %d", fast.Dropped())
	}

	slowSeqs := drain(slow.C())
	if len(slowSeqs) != 2 || slowSeqs[0] != 4 || slowSeqs[1] != 5 {
		t.Errorf("expected slow subscriber to keep [4 5], got %v", slowSeqs)
	}
	if slow.Dropped() != 3 {
		t.Errorf("expected 3 drops, got %d", slow.Dropped())
	}
}

func TestHubFilter(t *testing.T) {
	hub := metrics.NewHub(8)
	sub, _ := hub.Subscribe(metrics.TypeMemory)

	hub.Publish(
		snapshot(1, metrics.TypeRequests),
		snapshot(1, metrics.TypeMemory),
		snapshot(1, metrics.TypeTimes),
	)

	select {
	case s := <-sub.C():
		if s.Type != metrics.TypeMemory {
			t.Errorf("expected memory snapshot, got %s", s.Type)
		}
	default:
		t.Fatal("expected a snapshot")
	}
	if extra := drain(sub.C()); len(extra) != 0 {
		t.Errorf("expected filtered snapshots to be skipped, got %v", extra)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := metrics.NewHub(4)
	sub, _ := hub.Subscribe()
	if hub.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Len())
	}

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if hub.Len() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Len())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("expected channel to be closed")
	}

	// Publishing afterwards must not panic on the closed channel.
	hub.Publish(snapshot(1, metrics.TypeRequests))
}

func TestHubClose(t *testing.T) {
	hub := metrics.NewHub(4)
	a, _ := hub.Subscribe()
	b, _ := hub.Subscribe()
	if a.ID() == b.ID() {
		t.Fatalf("expected unique ids, got %s twice", a.ID())
	}

	hub.Close()

	for _, sub := range []*metrics.Subscriber{a, b} {
		if _, ok := <-sub.C(); ok {
			t.Errorf("expected subscriber %s to be closed", sub.ID())
		}
	}
	if _, err := hub.Subscribe(); !errors.Is(err, metrics.ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
	hub.Unsubscribe(a)
	hub.Close()
}
