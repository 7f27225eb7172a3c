package nonce

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func TestNextStrictlyIncreasesUnderJitter(t *testing.T) {
	gen := NewGenerator()
	base := time.Unix(1_700_000_000, 0)
	stamps := []time.Time{
		base,
		base.Add(time.Millisecond),
		base.Add(time.Millisecond), // repeated
		base,                       // going backwards
		base.Add(-time.Second),     // far backwards
		base.Add(2 * time.Millisecond),
	}

	var prev int64
	for i, ts := range stamps {
		id := gen.Next(ts)
		if i > 0 && id <= prev {
			t.Fatalf("id %d at index %d not greater than previous %d", id, i, prev)
		}
		prev = id
	}
}

func TestNextReflectsTimestampWhenAhead(t *testing.T) {
	gen := NewGenerator()
	ts := time.Unix(1_700_000_000, 123_000)
	if id := gen.Next(ts); id != ts.UnixMicro() {
		t.Fatalf("expected microsecond id %d, got %d", ts.UnixMicro(), id)
	}
}

func TestNextConcurrentUniqueness(t *testing.T) {
	gen := NewGenerator()
	const workers, perWorker = 8, 200
	ids := make(chan int64, workers*perWorker)
	ts := time.Unix(1_700_000_000, 0)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- gen.Next(ts)
			}
		}()
	}
	wg.Wait()
	close(ids)

	collected := make([]int64, 0, workers*perWorker)
	for id := range ids {
		collected = append(collected, id)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i] < collected[j] })
	for i := 1; i < len(collected); i++ {
		if collected[i] == collected[i-1] {
			t.Fatalf("duplicate id %d", collected[i])
		}
	}
}
