package account

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantfabric/paradise/internal/schema"
)

// wireStates maps exchange status names onto the connector lifecycle. Trigger
// and refund statuses fall outside the tracked lifecycle and are dropped.
var wireStates = map[string]schema.OrderState{
	"Inserted":        schema.StateInserted,
	"Transacted":      schema.StateTransacted,
	"PartiallyFilled": schema.StatePartiallyFilled,
	"Filled":          schema.StateFilled,
	"Cancelled":       schema.StateCancelled,
	"Rejected":        schema.StateRejected,
	"Failed":          schema.StateFailed,
}

// orderEventRow is the wire shape shared by the order push channel and the
// order status query.
type orderEventRow struct {
	Status        string      `json:"status"`
	ClientOrderID string      `json:"clOrderID"`
	OrderID       json.Number `json:"orderID"`
	Symbol        string      `json:"symbol"`
	Timestamp     int64       `json:"timestamp"`
}

func (row orderEventRow) toOrderUpdate(now time.Time) (schema.OrderUpdate, bool) {
	state, ok := wireStates[row.Status]
	if !ok {
		return schema.OrderUpdate{}, false
	}
	ts := now
	if row.Timestamp > 0 {
		ts = time.UnixMilli(row.Timestamp)
	}
	return schema.OrderUpdate{
		ClientOrderID:   row.ClientOrderID,
		ExchangeOrderID: row.OrderID.String(),
		NewState:        state,
		Timestamp:       ts,
	}, true
}

// tradeEventRow is the wire shape shared by the fill push channel and the
// trade-history poll.
type tradeEventRow struct {
	ClientOrderID string          `json:"order_link_id"`
	TradeID       json.Number     `json:"serialId"`
	OrderID       json.Number     `json:"orderId"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	TriggerPrice  decimal.Decimal `json:"triggerPrice"`
	FilledSize    decimal.Decimal `json:"filledSize"`
	FeeAmount     decimal.Decimal `json:"feeAmount"`
	Timestamp     int64           `json:"timestamp"`
}

func (row tradeEventRow) toTradeUpdate() schema.TradeUpdate {
	price := row.Price
	if row.TriggerPrice.Sign() != 0 {
		price = row.TriggerPrice
	}
	side := schema.SideBuy
	if row.Side == "SELL" {
		side = schema.SideSell
	}
	return schema.TradeUpdate{
		TradeID:         row.TradeID.String(),
		ClientOrderID:   row.ClientOrderID,
		ExchangeOrderID: row.OrderID.String(),
		Side:            side,
		FillPrice:       price,
		FillBase:        row.FilledSize,
		FillQuote:       price.Mul(row.FilledSize),
		Fee:             row.FeeAmount,
		Timestamp:       time.UnixMilli(row.Timestamp),
	}
}

// positionRow is one REST positions entry.
type positionRow struct {
	Symbol               string          `json:"symbol"`
	Side                 string          `json:"side"`
	Size                 decimal.Decimal `json:"size"`
	EntryPrice           decimal.Decimal `json:"entryPrice"`
	CurrentLeverage      decimal.Decimal `json:"currentLeverage"`
	UnrealizedProfitLoss decimal.Decimal `json:"unrealizedProfitLoss"`
}

func (row positionRow) toPosition(pair schema.Pair) schema.Position {
	side := schema.PositionLong
	if row.Side != "BUY" {
		side = schema.PositionShort
	}
	amount := row.Size
	if side == schema.PositionShort {
		amount = amount.Neg()
	}
	return schema.Position{
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		EntryPrice:    row.EntryPrice,
		Leverage:      row.CurrentLeverage,
		UnrealizedPnL: row.UnrealizedProfitLoss,
	}
}

// walletRow is one REST wallet entry. The exchange reports one available
// figure per wallet, shared across its asset rows.
type walletRow struct {
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	Assets           []struct {
		Currency string          `json:"currency"`
		Balance  decimal.Decimal `json:"balance"`
	} `json:"assets"`
}
