package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/schema"
)

func level(price, size string) schema.PriceLevel {
	return schema.PriceLevel{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

func snapshotEvent(id int64, bids, asks []schema.PriceLevel) schema.BookEvent {
	return schema.BookEvent{
		Type:      schema.BookSnapshot,
		Pair:      schema.Pair("BTC-USD"),
		UpdateID:  id,
		Timestamp: time.UnixMilli(1_700_000_000_000),
		Bids:      bids,
		Asks:      asks,
	}
}

func diffEvent(id int64, bids, asks []schema.PriceLevel) schema.BookEvent {
	ev := snapshotEvent(id, bids, asks)
	ev.Type = schema.BookDiff
	return ev
}

func TestDiffBeforeSnapshotIsBufferedAndReplayed(t *testing.T) {
	b := NewBook(schema.Pair("BTC-USD"))

	applied, err := b.ApplyDiff(diffEvent(5, []schema.PriceLevel{level("101", "2")}, nil))
	if err != nil {
		t.Fatalf("buffered diff: %v", err)
	}
	if applied {
		t.Fatal("diff applied before snapshot")
	}

	out, err := b.ApplySnapshot(snapshotEvent(3,
		[]schema.PriceLevel{level("100", "1")},
		[]schema.PriceLevel{level("102", "1")}))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected snapshot plus replayed diff, got %d events", len(out))
	}
	if b.LastUpdateID() != 5 {
		t.Fatalf("last update id %d", b.LastUpdateID())
	}

	bids := b.Bids()
	if len(bids) != 2 || !bids[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("unexpected bids %v", bids)
	}
}

func TestStaleDiffRejected(t *testing.T) {
	b := NewBook(schema.Pair("BTC-USD"))
	if _, err := b.ApplySnapshot(snapshotEvent(10, []schema.PriceLevel{level("100", "1")}, nil)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	_, err := b.ApplyDiff(diffEvent(10, []schema.PriceLevel{level("99", "1")}, nil))
	if !errs.HasCode(err, errs.CodeStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if len(b.Bids()) != 1 {
		t.Fatal("stale diff mutated the book")
	}
}

func TestZeroSizeDeletesLevel(t *testing.T) {
	b := NewBook(schema.Pair("BTC-USD"))
	if _, err := b.ApplySnapshot(snapshotEvent(1,
		[]schema.PriceLevel{level("100", "1"), level("99", "2")}, nil)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	applied, err := b.ApplyDiff(diffEvent(2, []schema.PriceLevel{level("100", "0")}, nil))
	if err != nil || !applied {
		t.Fatalf("diff: applied=%v err=%v", applied, err)
	}
	bids := b.Bids()
	if len(bids) != 1 || !bids[0].Price.Equal(decimal.RequireFromString("99")) {
		t.Fatalf("unexpected bids after delete %v", bids)
	}
}

func TestSnapshotResetsBook(t *testing.T) {
	b := NewBook(schema.Pair("BTC-USD"))
	if _, err := b.ApplySnapshot(snapshotEvent(1, []schema.PriceLevel{level("100", "1")}, nil)); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if _, err := b.ApplySnapshot(snapshotEvent(2, []schema.PriceLevel{level("200", "3")}, nil)); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	bids := b.Bids()
	if len(bids) != 1 || !bids[0].Price.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("old levels survived the reset: %v", bids)
	}
}

func TestSidesSortedBestFirst(t *testing.T) {
	b := NewBook(schema.Pair("BTC-USD"))
	if _, err := b.ApplySnapshot(snapshotEvent(1,
		[]schema.PriceLevel{level("99", "1"), level("101", "1"), level("100", "1")},
		[]schema.PriceLevel{level("104", "1"), level("102", "1"), level("103", "1")})); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	bids, asks := b.Bids(), b.Asks()
	if !bids[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("best bid %v", bids[0].Price)
	}
	if !asks[0].Price.Equal(decimal.RequireFromString("102")) {
		t.Fatalf("best ask %v", asks[0].Price)
	}
}
