package account

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/schema"
)

const eventBuffer = 1024

// Reconciler merges order, trade, position, and balance updates from the push
// and poll channels. Merge rules are idempotent and monotone so the two
// channels can race without corrupting state: fills apply exactly once per
// trade id, lifecycle transitions apply only when reachable, and position and
// balance writes are whole-record replacements. Orders leave the tracker on
// their terminal transition so the in-flight map stays bounded; anything
// arriving afterwards drops on the unknown-order path.
type Reconciler struct {
	mu        sync.Mutex
	tracker   *Tracker
	positions map[schema.PositionKey]schema.Position
	balances  map[string]schema.Balance
	events    chan schema.Event
	log       *logrus.Entry
}

// NewReconciler builds a reconciler over the tracker.
func NewReconciler(tracker *Tracker) *Reconciler {
	return &Reconciler{
		tracker:   tracker,
		positions: make(map[schema.PositionKey]schema.Position),
		balances:  make(map[string]schema.Balance),
		events:    make(chan schema.Event, eventBuffer),
		log:       logging.Component("account"),
	}
}

// Events is the ordered event sequence consumed by the strategy layer.
func (r *Reconciler) Events() <-chan schema.Event { return r.events }

// Tracker exposes the order map for read access.
func (r *Reconciler) Tracker() *Tracker { return r.tracker }

// ProcessTradeUpdate applies one fill. Unknown or terminal orders drop the
// update silently; a repeated trade id is a no-op. The position action is
// derived from the fill side relative to the order side.
func (r *Reconciler) ProcessTradeUpdate(ctx context.Context, tu schema.TradeUpdate) error {
	r.tracker.mu.Lock()
	order := r.tracker.fillableLocked(tu.ClientOrderID)
	if order == nil {
		r.tracker.mu.Unlock()
		r.log.WithField("client_order_id", tu.ClientOrderID).Debug("fill for unknown or terminal order dropped")
		return nil
	}
	if _, seen := order.appliedTrades[tu.TradeID]; seen {
		r.tracker.mu.Unlock()
		return nil
	}
	order.appliedTrades[tu.TradeID] = struct{}{}

	if tu.Action == schema.PositionActionNil {
		if tu.Side == order.Side {
			tu.Action = schema.PositionActionOpen
		} else {
			tu.Action = schema.PositionActionClose
		}
	}
	tu.Pair = order.Pair
	if tu.FeeAsset == "" && tu.Fee.Sign() != 0 {
		tu.FeeAsset = order.Pair.Quote()
	}
	if tu.FillQuote.IsZero() {
		tu.FillQuote = tu.FillPrice.Mul(tu.FillBase)
	}

	order.FilledBase = order.FilledBase.Add(tu.FillBase)
	order.FilledQuote = order.FilledQuote.Add(tu.FillQuote)
	if tu.ExchangeOrderID != "" && order.ExchangeOrderID == "" {
		order.ExchangeOrderID = tu.ExchangeOrderID
	}

	next := schema.StatePartiallyFilled
	if order.FilledBase.Cmp(order.Amount) >= 0 {
		next = schema.StateFilled
	}
	var transition *schema.OrderUpdate
	if schema.Reachable(order.State, next) {
		order.State = next
		transition = &schema.OrderUpdate{
			Pair:            order.Pair,
			ClientOrderID:   order.ClientOrderID,
			ExchangeOrderID: order.ExchangeOrderID,
			NewState:        next,
			Timestamp:       tu.Timestamp,
		}
		if next.Terminal() {
			delete(r.tracker.orders, order.ClientOrderID)
		}
	}
	r.tracker.mu.Unlock()

	if err := r.emit(ctx, schema.Event{
		Type:      schema.EventOrderFill,
		Pair:      tu.Pair,
		Timestamp: tu.Timestamp,
		Payload:   tu,
	}); err != nil {
		return err
	}
	if transition != nil {
		return r.emit(ctx, schema.Event{
			Type:      schema.EventOrderUpdate,
			Pair:      transition.Pair,
			Timestamp: transition.Timestamp,
			Payload:   *transition,
		})
	}
	return nil
}

// ProcessOrderUpdate applies one lifecycle transition. Unknown orders and
// transitions that are not reachable from the current state are dropped as
// stale.
func (r *Reconciler) ProcessOrderUpdate(ctx context.Context, ou schema.OrderUpdate) error {
	r.tracker.mu.Lock()
	order := r.tracker.updatableLocked(ou.ClientOrderID)
	if order == nil {
		r.tracker.mu.Unlock()
		r.log.WithField("client_order_id", ou.ClientOrderID).Debug("status for unknown or terminal order dropped")
		return nil
	}
	if !schema.Reachable(order.State, ou.NewState) {
		r.tracker.mu.Unlock()
		r.log.WithFields(logrus.Fields{
			"client_order_id": ou.ClientOrderID,
			"current":         string(order.State),
			"next":            string(ou.NewState),
		}).Debug("stale order transition dropped")
		return nil
	}
	order.State = ou.NewState
	if ou.ExchangeOrderID != "" && order.ExchangeOrderID == "" {
		order.ExchangeOrderID = ou.ExchangeOrderID
	}
	ou.Pair = order.Pair
	if ou.NewState.Terminal() {
		delete(r.tracker.orders, ou.ClientOrderID)
	}
	r.tracker.mu.Unlock()

	return r.emit(ctx, schema.Event{
		Type:      schema.EventOrderUpdate,
		Pair:      ou.Pair,
		Timestamp: ou.Timestamp,
		Payload:   ou,
	})
}

// MarkNotFound records that the exchange no longer knows the order. The
// record is failed and removed from the in-flight map.
func (r *Reconciler) MarkNotFound(ctx context.Context, clientOrderID string) error {
	r.tracker.mu.Lock()
	order := r.tracker.updatableLocked(clientOrderID)
	if order == nil {
		r.tracker.mu.Unlock()
		return nil
	}
	order.State = schema.StateFailed
	ou := schema.OrderUpdate{
		Pair:            order.Pair,
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		NewState:        schema.StateFailed,
	}
	delete(r.tracker.orders, clientOrderID)
	r.tracker.mu.Unlock()

	r.log.WithField("client_order_id", clientOrderID).Warn("order not found on exchange")
	return r.emit(ctx, schema.Event{
		Type:    schema.EventOrderUpdate,
		Pair:    ou.Pair,
		Payload: ou,
	})
}

// ApplyPosition replaces the whole record for the position's (pair, side)
// key. A zero amount removes the key; removing an absent key is a no-op.
func (r *Reconciler) ApplyPosition(ctx context.Context, p schema.Position) error {
	key := p.Key()
	r.mu.Lock()
	if p.Amount.IsZero() {
		_, existed := r.positions[key]
		delete(r.positions, key)
		r.mu.Unlock()
		if !existed {
			return nil
		}
		return r.emit(ctx, schema.Event{
			Type:    schema.EventPositionRemoved,
			Pair:    p.Pair,
			Payload: key,
		})
	}
	r.positions[key] = p
	r.mu.Unlock()
	return r.emit(ctx, schema.Event{
		Type:    schema.EventPositionUpdate,
		Pair:    p.Pair,
		Payload: p,
	})
}

// ReplaceBalances installs a full wallet snapshot, clearing previous rows.
func (r *Reconciler) ReplaceBalances(ctx context.Context, balances []schema.Balance) error {
	r.mu.Lock()
	clear(r.balances)
	for _, b := range balances {
		r.balances[b.Asset] = b
	}
	snapshot := r.balancesLocked()
	r.mu.Unlock()
	return r.emit(ctx, schema.Event{
		Type:    schema.EventBalanceSnapshot,
		Payload: snapshot,
	})
}

// Positions returns copies of all open positions.
func (r *Reconciler) Positions() []schema.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return out
}

// Position returns one position by key.
func (r *Reconciler) Position(key schema.PositionKey) (schema.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[key]
	return p, ok
}

// Balances returns copies of all wallet rows.
func (r *Reconciler) Balances() []schema.Balance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balancesLocked()
}

// Balance returns one wallet row by asset.
func (r *Reconciler) Balance(asset string) (schema.Balance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[asset]
	return b, ok
}

func (r *Reconciler) balancesLocked() []schema.Balance {
	out := make([]schema.Balance, 0, len(r.balances))
	for _, b := range r.balances {
		out = append(out, b)
	}
	return out
}

func (r *Reconciler) emit(ctx context.Context, ev schema.Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
