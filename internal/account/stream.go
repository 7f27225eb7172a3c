package account

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
	"github.com/quantfabric/paradise/internal/ws"
)

// StreamHandlers bridges private stream messages into the reconciler. The
// exchange labels its channels by payload rather than by name: the fills
// channel carries order status events and the notification channel carries
// executions.
type StreamHandlers struct {
	rec     *Reconciler
	symbols *symbols.Map
	// refreshBalances is invoked after each position push because the
	// exchange has no wallet push channel.
	refreshBalances func(ctx context.Context) error
	log             *logrus.Entry
}

// NewStreamHandlers wires the reconciler and symbol map to stream routes.
func NewStreamHandlers(rec *Reconciler, symbolMap *symbols.Map, refreshBalances func(ctx context.Context) error) *StreamHandlers {
	return &StreamHandlers{
		rec:             rec,
		symbols:         symbolMap,
		refreshBalances: refreshBalances,
		log:             logging.Component("account").WithField("source", "stream"),
	}
}

// Register installs the private channel routes on the session.
func (h *StreamHandlers) Register(sess *ws.Session) {
	sess.Route(ws.ChannelFills, h.HandleOrderMessage)
	sess.Route(ws.ChannelNotifications, h.HandleTradeMessage)
	sess.Route(ws.ChannelPositions, h.HandlePositionMessage)
}

// HandleOrderMessage applies a batch of order lifecycle events.
func (h *StreamHandlers) HandleOrderMessage(ctx context.Context, _ string, data json.RawMessage) error {
	var rows []orderEventRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	now := time.Now()
	for _, row := range rows {
		ou, ok := row.toOrderUpdate(now)
		if !ok {
			h.log.WithField("status", row.Status).Debug("unmapped order status dropped")
			continue
		}
		if err := h.rec.ProcessOrderUpdate(ctx, ou); err != nil {
			return err
		}
	}
	return nil
}

// HandleTradeMessage applies a batch of execution events.
func (h *StreamHandlers) HandleTradeMessage(ctx context.Context, _ string, data json.RawMessage) error {
	var rows []tradeEventRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for _, row := range rows {
		if err := h.rec.ProcessTradeUpdate(ctx, row.toTradeUpdate()); err != nil {
			return err
		}
	}
	return nil
}

// positionPushRow wraps one pushed position; the exchange nests the record in
// a single-element data array.
type positionPushRow struct {
	Data []struct {
		MarketName      string          `json:"marketName"`
		OrderModeName   string          `json:"orderModeName"`
		TotalValue      decimal.Decimal `json:"totalValue"`
		EntryPrice      decimal.Decimal `json:"entryPrice"`
		OriginalAmount  decimal.Decimal `json:"originalAmount"`
		CurrentLeverage decimal.Decimal `json:"currentLeverage"`
	} `json:"data"`
}

// HandlePositionMessage applies pushed position changes and schedules a
// balance refresh, since wallet changes are not streamed.
func (h *StreamHandlers) HandlePositionMessage(ctx context.Context, _ string, data json.RawMessage) error {
	var rows []positionPushRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row.Data) == 0 {
			continue
		}
		entry := row.Data[0]
		symbol, _, _ := strings.Cut(entry.MarketName, "-")
		pair, err := h.symbols.ResolveInverse(symbol)
		if err != nil {
			h.log.WithField("symbol", symbol).Debug("position push for unknown symbol dropped")
			continue
		}
		side := schema.PositionLong
		if entry.OrderModeName == "MODE_SELL" {
			side = schema.PositionShort
		}
		amount := entry.OriginalAmount
		if side == schema.PositionShort && amount.Sign() != 0 {
			amount = amount.Neg()
		}
		unrealized := entry.TotalValue.Sub(entry.OriginalAmount.Mul(entry.EntryPrice).Mul(entry.CurrentLeverage))
		if err := h.rec.ApplyPosition(ctx, schema.Position{
			Pair:          pair,
			Side:          side,
			Amount:        amount,
			EntryPrice:    entry.EntryPrice,
			Leverage:      entry.CurrentLeverage,
			UnrealizedPnL: unrealized,
		}); err != nil {
			return err
		}
	}

	if h.refreshBalances != nil {
		go func() {
			if err := h.refreshBalances(context.WithoutCancel(ctx)); err != nil {
				h.log.WithError(err).Warn("balance refresh after position push failed")
			}
		}()
	}
	return nil
}
