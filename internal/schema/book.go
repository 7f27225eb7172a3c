package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one (price, size) row of an order book side. A zero size
// removes the level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookEventType tags order book events as full snapshots or deltas.
type BookEventType string

const (
	BookSnapshot BookEventType = "SNAPSHOT"
	BookDiff     BookEventType = "DIFF"
)

// BookEvent is one entry in the totally ordered per-pair book sequence.
// Consumers must apply a snapshot before any diff with a greater update id;
// a diff whose update id is not greater than the last applied one is stale.
type BookEvent struct {
	Type      BookEventType
	Pair      Pair
	UpdateID  int64
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// PublicTrade is one public trade print from the market data stream. Trade
// prints do not participate in book ordering.
type PublicTrade struct {
	TradeID   string
	Pair      Pair
	Side      TradeSide
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}
