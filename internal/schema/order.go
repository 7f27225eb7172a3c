package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide distinguishes buy and sell flow.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
)

// IsLimit reports whether the order type carries a price.
func (t OrderType) IsLimit() bool {
	return t == OrderTypeLimit || t == OrderTypeLimitMaker
}

// OrderState is one of the monotone lifecycle stages an order passes through.
type OrderState string

const (
	StateInserted        OrderState = "Inserted"
	StateTransacted      OrderState = "Transacted"
	StatePartiallyFilled OrderState = "PartiallyFilled"
	StateFilled          OrderState = "Filled"
	StateCancelled       OrderState = "Cancelled"
	StateRejected        OrderState = "Rejected"
	StateFailed          OrderState = "Failed"
)

var stateRanks = map[OrderState]int{
	StateInserted:        1,
	StateTransacted:      2,
	StatePartiallyFilled: 3,
	StateFilled:          4,
	StateCancelled:       4,
	StateRejected:        4,
	StateFailed:          4,
}

// Known reports whether s is a recognized lifecycle state.
func (s OrderState) Known() bool {
	_, ok := stateRanks[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s OrderState) Terminal() bool {
	return stateRanks[s] == 4
}

// Reachable reports whether next strictly succeeds cur in the lifecycle
// partial order. Transitions to an earlier or equal stage are stale.
func Reachable(cur, next OrderState) bool {
	curRank, curOK := stateRanks[cur]
	nextRank, nextOK := stateRanks[next]
	if !curOK || !nextOK {
		return false
	}
	return nextRank > curRank
}

// OrderUpdate reports a lifecycle transition learned from the stream or a poll.
type OrderUpdate struct {
	Pair            Pair
	ClientOrderID   string
	ExchangeOrderID string
	NewState        OrderState
	Timestamp       time.Time
}

// TradeUpdate reports a single fill. TradeID is unique per fill; a repeated
// trade id must never alter accumulated state a second time. Action is
// derived by the reconciler from the fill side relative to the order side.
type TradeUpdate struct {
	TradeID         string
	ClientOrderID   string
	ExchangeOrderID string
	Pair            Pair
	Side            TradeSide
	Action          PositionAction
	FillPrice       decimal.Decimal
	FillBase        decimal.Decimal
	FillQuote       decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	Timestamp       time.Time
}
