package account

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/rest"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
)

const defaultTimeInForce = "GTC"

// wireOrderTypes maps connector order types to the exchange's order type
// strings. Maker-only orders go through the algo order engine.
var wireOrderTypes = map[schema.OrderType]string{
	schema.OrderTypeLimit:      "Limit",
	schema.OrderTypeMarket:     "Market",
	schema.OrderTypeLimitMaker: "AlgoOrder",
}

// Position index values carried on order placement.
const (
	positionIdxOneWay    = 0
	positionIdxHedgeBuy  = 1
	positionIdxHedgeSell = 2
)

// Trader places and cancels orders and manages per-pair trading settings.
// Orders are tracked before submission so a fill racing the placement
// response still finds its record.
type Trader struct {
	dispatcher *rest.Dispatcher
	symbols    *symbols.Map
	rec        *Reconciler

	modeMu sync.Mutex
	mode   schema.PositionMode

	log *logrus.Entry
}

// NewTrader builds a trader in one-way position mode.
func NewTrader(dispatcher *rest.Dispatcher, symbolMap *symbols.Map, rec *Reconciler) *Trader {
	return &Trader{
		dispatcher: dispatcher,
		symbols:    symbolMap,
		rec:        rec,
		mode:       schema.PositionModeOneWay,
		log:        logging.Component("account").WithField("source", "trade"),
	}
}

// PositionMode returns the currently configured accounting mode.
func (t *Trader) PositionMode() schema.PositionMode {
	t.modeMu.Lock()
	defer t.modeMu.Unlock()
	return t.mode
}

// OrderRequest describes one order to place. A blank ClientOrderID is filled
// with a generated id.
type OrderRequest struct {
	Pair          schema.Pair
	Side          schema.TradeSide
	Type          schema.OrderType
	Amount        decimal.Decimal
	Price         decimal.Decimal
	Action        schema.PositionAction
	ClientOrderID string
}

// positionIndex derives the index the exchange requires on placement. A nil
// action, an unknown side, or a close in one-way mode is a caller bug.
func positionIndex(mode schema.PositionMode, side schema.TradeSide, action schema.PositionAction) (int, error) {
	if action == schema.PositionActionNil {
		return 0, errs.New("account/trade", errs.CodeInvalid, errs.WithMessage("order requires an explicit position action"))
	}
	if mode == schema.PositionModeOneWay {
		if action == schema.PositionActionClose {
			return 0, errs.New("account/trade", errs.CodeInvalid, errs.WithMessage("close action is invalid in one-way mode"))
		}
		return positionIdxOneWay, nil
	}
	switch side {
	case schema.SideBuy:
		if action == schema.PositionActionClose {
			return positionIdxHedgeSell, nil
		}
		return positionIdxHedgeBuy, nil
	case schema.SideSell:
		if action == schema.PositionActionClose {
			return positionIdxHedgeBuy, nil
		}
		return positionIdxHedgeSell, nil
	default:
		return 0, errs.New("account/trade", errs.CodeInvalid, errs.WithMessage("unknown trade side "+string(side)))
	}
}

// PlaceOrder submits the order and returns its client order id. The order is
// tracked before the request goes out; a rejected submission removes it.
func (t *Trader) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	idx, err := positionIndex(t.PositionMode(), req.Side, req.Action)
	if err != nil {
		return "", err
	}
	symbol, err := t.symbols.Resolve(req.Pair)
	if err != nil {
		return "", err
	}
	orderType, ok := wireOrderTypes[req.Type]
	if !ok {
		return "", errs.New("account/trade", errs.CodeInvalid, errs.WithMessage("unsupported order type "+string(req.Type)))
	}
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = NewClientOrderID()
	}

	t.rec.Tracker().Track(&TrackedOrder{
		ClientOrderID: clientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Amount:        req.Amount,
		CreatedAt:     time.Now(),
	})

	body := map[string]any{
		"side":          string(req.Side),
		"symbol":        symbol,
		"size":          req.Amount.InexactFloat64(),
		"time_in_force": defaultTimeInForce,
		"clOrderID":     clientOrderID,
		"reduceOnly":    req.Action == schema.PositionActionClose,
		"positionMode":  idx,
		"type":          orderType,
	}
	if req.Type.IsLimit() {
		body["price"] = req.Price.InexactFloat64()
	}

	raw, err := t.dispatcher.Post(ctx, rest.EndpointOrder, body, rest.CallOptions{
		AuthRequired: true,
		Pair:         req.Pair,
	})
	if err != nil {
		t.rec.Tracker().Remove(clientOrderID)
		return "", err
	}

	var rows []struct {
		OrderID json.Number `json:"orderID"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		t.log.WithField("client_order_id", clientOrderID).Warn("order accepted without an exchange id")
		return clientOrderID, nil
	}
	t.rec.Tracker().AdoptExchangeOrderID(clientOrderID, rows[0].OrderID.String())
	return clientOrderID, nil
}

// CancelOrder requests cancellation by exchange id when known, client id
// otherwise. An order the exchange no longer knows is marked not found and
// reported as success.
func (t *Trader) CancelOrder(ctx context.Context, clientOrderID string) error {
	order, ok := t.rec.Tracker().Get(clientOrderID)
	if !ok {
		return errs.New("account/trade", errs.CodeNotFound, errs.WithMessage("untracked order "+clientOrderID))
	}
	symbol, err := t.symbols.Resolve(order.Pair)
	if err != nil {
		return err
	}
	body := map[string]any{"symbol": symbol}
	if order.ExchangeOrderID != "" {
		body["orderID"] = order.ExchangeOrderID
	} else {
		body["clOrderID"] = order.ClientOrderID
	}

	_, err = t.dispatcher.Post(ctx, rest.EndpointOrder, body, rest.CallOptions{
		AuthRequired: true,
		Pair:         order.Pair,
	})
	if err != nil {
		if errs.RetCodeOf(err) == rest.RetCodeOrderNotExists {
			return t.rec.MarkNotFound(ctx, clientOrderID)
		}
		return err
	}
	return nil
}

// SetLeverage applies the leverage for the pair. The exchange reports an
// ongoing liquidation as a distinct code that still means the value took.
func (t *Trader) SetLeverage(ctx context.Context, pair schema.Pair, leverage int) error {
	symbol, err := t.symbols.Resolve(pair)
	if err != nil {
		return err
	}
	_, err = t.dispatcher.Post(ctx, rest.EndpointLeverage, map[string]any{
		"symbol":   symbol,
		"leverage": leverage,
	}, rest.CallOptions{AuthRequired: true, Pair: pair})
	if err != nil && errs.RetCodeOf(err) == rest.RetCodeLeverageLiquidation {
		t.log.WithField("pair", pair).Warn("leverage set during liquidation")
		return nil
	}
	return err
}

// SetPositionMode switches accounting mode on every mapped pair. A pair
// already in the requested mode is not an error.
func (t *Trader) SetPositionMode(ctx context.Context, mode schema.PositionMode) error {
	for _, pair := range t.symbols.Pairs() {
		symbol, err := t.symbols.Resolve(pair)
		if err != nil {
			continue
		}
		_, err = t.dispatcher.Post(ctx, rest.EndpointPositionMode, map[string]any{
			"symbol": symbol,
			"mode":   string(mode),
		}, rest.CallOptions{AuthRequired: true})
		if err != nil && errs.RetCodeOf(err) != rest.RetCodeModeNotModified {
			return err
		}
	}
	t.modeMu.Lock()
	t.mode = mode
	t.modeMu.Unlock()
	return nil
}

// LastTradedPrice returns the most recent trade price for the pair.
func (t *Trader) LastTradedPrice(ctx context.Context, pair schema.Pair) (decimal.Decimal, error) {
	symbol, err := t.symbols.Resolve(pair)
	if err != nil {
		return decimal.Zero, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := t.dispatcher.Get(ctx, rest.EndpointLatestPrice, params, rest.CallOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	var rows []struct {
		LastPrice decimal.Decimal `json:"lastPrice"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return decimal.Zero, errs.New("account/trade", errs.CodeExchange, errs.WithMessage("no price for "+symbol))
	}
	return rows[0].LastPrice, nil
}

// FundingPayment is one settled funding fee on a position.
type FundingPayment struct {
	Pair      schema.Pair
	Rate      decimal.Decimal
	Payment   decimal.Decimal
	Timestamp time.Time
}

// LastFundingPayment returns the latest funding settlement for the pair. The
// payment is the funding rate applied to the held size.
func (t *Trader) LastFundingPayment(ctx context.Context, pair schema.Pair) (FundingPayment, error) {
	symbol, err := t.symbols.Resolve(pair)
	if err != nil {
		return FundingPayment{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := t.dispatcher.Get(ctx, rest.EndpointMarketSummary, params, rest.CallOptions{
		AuthRequired: true,
		Pair:         pair,
	})
	if err != nil {
		return FundingPayment{}, err
	}
	var rows []struct {
		FundingRate decimal.Decimal `json:"fundingRate"`
		Size        decimal.Decimal `json:"size"`
		FundingTime string          `json:"fundingTime"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return FundingPayment{}, errs.New("account/trade", errs.CodeExchange, errs.WithMessage("no funding data for "+symbol))
	}
	row := rows[0]
	return FundingPayment{
		Pair:      pair,
		Rate:      row.FundingRate,
		Payment:   row.FundingRate.Mul(row.Size),
		Timestamp: parseFundingTime(row.FundingTime),
	}, nil
}

// FundingInfo is the current funding state of a contract.
type FundingInfo struct {
	Pair        schema.Pair
	IndexPrice  decimal.Decimal
	MarkPrice   decimal.Decimal
	Rate        decimal.Decimal
	NextFunding time.Time
}

// FundingInfo returns index and mark prices with the predicted funding rate.
func (t *Trader) FundingInfo(ctx context.Context, pair schema.Pair) (FundingInfo, error) {
	symbol, err := t.symbols.Resolve(pair)
	if err != nil {
		return FundingInfo{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := t.dispatcher.Get(ctx, rest.EndpointMarketSummary, params, rest.CallOptions{Pair: pair})
	if err != nil {
		return FundingInfo{}, err
	}
	var rows []struct {
		IndexPrice  decimal.Decimal `json:"indexPrice"`
		MarkPrice   decimal.Decimal `json:"markPrice"`
		FundingRate decimal.Decimal `json:"fundingRate"`
		FundingTime string          `json:"fundingTime"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return FundingInfo{}, errs.New("account/trade", errs.CodeExchange, errs.WithMessage("no instrument data for "+symbol))
	}
	row := rows[0]
	return FundingInfo{
		Pair:        pair,
		IndexPrice:  row.IndexPrice,
		MarkPrice:   row.MarkPrice,
		Rate:        row.FundingRate,
		NextFunding: parseFundingTime(row.FundingTime),
	}, nil
}

// parseFundingTime accepts either an RFC 3339 datetime or epoch milliseconds.
func parseFundingTime(value string) time.Time {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
