package metrics_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/torosent/tickstat/internal/metrics"
)

func TestRingKeepsMostRecentInOrder(t *testing.T) {
	const capacity = 5
	r := metrics.NewRing[int](capacity)

	for i := 1; i <= capacity+3; i++ {
		r.Push(i)
	}

	got := r.ReadRange(0, capacity)
	want := []int{4, 5, 6, 7, 8}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if r.Len() != capacity {
		t.Errorf("expected len %d, got %d", capacity, r.Len())
	}
	if latest, ok := r.Latest(); !ok || latest != 8 {
		t.Errorf("expected latest 8, got %d (ok=%v)", latest, ok)
	}
}

func TestRingReadRangeClamps(t *testing.T) {
	r := metrics.NewRing[int](10)
	for i := 0; i < 6; i++ {
		r.Push(i)
	}

	tests := []struct {
		name        string
		from, limit int
		want        []int
	}{
		{name: "full", from: 0, limit: 10, want: []int{0, 1, 2, 3, 4, 5}},
		{name: "middle", from: 2, limit: 3, want: []int{2, 3, 4}},
		{name: "limit past end", from: 4, limit: 10, want: []int{4, 5}},
		{name: "from at end", from: 6, limit: 3, want: []int{}},
		{name: "from past end", from: 100, limit: 3, want: []int{}},
		{name: "negative from", from: -3, limit: 2, want: []int{0, 1}},
		{name: "zero limit", from: 0, limit: 0, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ReadRange(tt.from, tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadRange(%d, %d) = %v, want %v", tt.from, tt.limit, got, tt.want)
			}
		})
	}
}

func TestRingReadRangeCountFormula(t *testing.T) {
	r := metrics.NewRing[int](8)
	for i := 0; i < 13; i++ {
		r.Push(i)
	}
	available := r.Len()

	for from := 0; from <= available+2; from++ {
		for limit := 1; limit <= available+2; limit++ {
			want := min(limit, max(0, available-from))
			if got := len(r.ReadRange(from, limit)); got != want {
				t.Fatalf("ReadRange(%d, %d) returned %d entries, want %d", from, limit, got, want)
			}
		}
	}
}

func TestRingScanNewestFirst(t *testing.T) {
	r := metrics.NewRing[int](4)
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}

	var got []int
	r.Scan(3, func(v int) bool {
		got = append(got, v)
		return true
	})
	if want := []int{6, 5, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got = got[:0]
	r.Scan(0, func(v int) bool {
		got = append(got, v)
		return v != 5
	})
	if want := []int{6, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected early stop %v, got %v", want, got)
	}
}

func TestRingEmpty(t *testing.T) {
	r := metrics.NewRing[string](0)
	if r.Cap() != 1 {
		t.Errorf("expected capacity clamped to 1, got %d", r.Cap())
	}
	if _, ok := r.Latest(); ok {
		t.Error("expected no latest entry on empty ring")
	}
	if got := r.ReadRange(0, 5); len(got) != 0 {
		t.Errorf("expected empty range, got %v", got)
	}
}

func TestRingConcurrentReaders(t *testing.T) {
	r := metrics.NewRing[int](64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			r.Push(i)
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				got := r.ReadRange(0, 64)
				for j := 1; j < len(got); j++ {
					if got[j] != got[j-1]+1 {
						t.Errorf("torn read: %v", got)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
