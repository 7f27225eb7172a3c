// Package book combines REST order book snapshots with stream diffs into a
// totally ordered per-pair event sequence.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/schema"
)

// Book maintains one pair's levels. Diffs arriving before the first snapshot
// are buffered and replayed once the snapshot lands; diffs whose update id is
// not greater than the last applied id are stale.
type Book struct {
	mu          sync.Mutex
	pair        schema.Pair
	initialized bool
	bids        map[string]decimal.Decimal
	asks        map[string]decimal.Decimal
	pending     []schema.BookEvent
	lastID      int64
	lastUpdate  time.Time
}

// NewBook constructs an empty book for the pair.
func NewBook(pair schema.Pair) *Book {
	return &Book{
		pair: pair,
		bids: make(map[string]decimal.Decimal),
		asks: make(map[string]decimal.Decimal),
	}
}

// HasSnapshot reports whether an initial snapshot has been applied.
func (b *Book) HasSnapshot() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// LastUpdateID returns the id of the last applied event.
func (b *Book) LastUpdateID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastID
}

// ApplySnapshot resets the book from a full snapshot and replays any buffered
// diffs with greater update ids. It returns the events now visible to
// consumers, snapshot first.
func (b *Book) ApplySnapshot(ev schema.BookEvent) ([]schema.BookEvent, error) {
	if ev.UpdateID <= 0 {
		return nil, errs.New("book", errs.CodeInvalid, errs.WithMessage("snapshot without update id for "+string(b.pair)))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.bids)
	clear(b.asks)
	b.replaceSideLocked(b.bids, ev.Bids)
	b.replaceSideLocked(b.asks, ev.Asks)
	b.initialized = true
	b.lastID = ev.UpdateID
	b.lastUpdate = ev.Timestamp

	out := []schema.BookEvent{ev}
	if len(b.pending) == 0 {
		return out, nil
	}

	sort.SliceStable(b.pending, func(i, j int) bool {
		return b.pending[i].UpdateID < b.pending[j].UpdateID
	})
	for _, diff := range b.pending {
		if diff.UpdateID <= b.lastID {
			continue
		}
		b.applyDiffLocked(diff)
		out = append(out, diff)
	}
	b.pending = b.pending[:0]
	return out, nil
}

// ApplyDiff applies one delta. Before the first snapshot the diff is buffered
// and not yet visible; a stale diff returns a CodeStale error.
func (b *Book) ApplyDiff(ev schema.BookEvent) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		b.pending = append(b.pending, ev)
		return false, nil
	}
	if ev.UpdateID <= b.lastID {
		return false, errs.New("book", errs.CodeStale,
			errs.WithMessage("stale diff for "+string(b.pair)))
	}
	b.applyDiffLocked(ev)
	return true, nil
}

func (b *Book) applyDiffLocked(ev schema.BookEvent) {
	b.updateSideLocked(b.bids, ev.Bids)
	b.updateSideLocked(b.asks, ev.Asks)
	b.lastID = ev.UpdateID
	b.lastUpdate = ev.Timestamp
}

func (b *Book) replaceSideLocked(target map[string]decimal.Decimal, levels []schema.PriceLevel) {
	for _, level := range levels {
		if level.Size.Sign() <= 0 {
			continue
		}
		target[level.Price.String()] = level.Size
	}
}

func (b *Book) updateSideLocked(target map[string]decimal.Decimal, levels []schema.PriceLevel) {
	for _, level := range levels {
		key := level.Price.String()
		if level.Size.Sign() <= 0 {
			delete(target, key)
			continue
		}
		target[key] = level.Size
	}
}

// Bids returns the bid side sorted best (highest) first.
func (b *Book) Bids() []schema.PriceLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedLevels(b.bids, true)
}

// Asks returns the ask side sorted best (lowest) first.
func (b *Book) Asks() []schema.PriceLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedLevels(b.asks, false)
}

func sortedLevels(source map[string]decimal.Decimal, descending bool) []schema.PriceLevel {
	if len(source) == 0 {
		return nil
	}
	out := make([]schema.PriceLevel, 0, len(source))
	for key, size := range source {
		price, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		out = append(out, schema.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		cmp := out[i].Price.Cmp(out[j].Price)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}
