// Package account is the authoritative merge point for order, trade,
// position, and balance state fed by the racing push and poll channels.
package account

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfabric/paradise/internal/schema"
)

const (
	// maxClientOrderIDLen is the longest client order id the exchange accepts.
	maxClientOrderIDLen = 36
	// clientOrderIDPrefix tags orders originated by this connector.
	clientOrderIDPrefix = "qf"
)

// NewClientOrderID returns a fresh exchange-safe client order id.
func NewClientOrderID() string {
	id := clientOrderIDPrefix + uuid.NewString()
	if len(id) > maxClientOrderIDLen {
		id = id[:maxClientOrderIDLen]
	}
	return id
}

// TrackedOrder is the connector-side record of one in-flight order. All
// mutation goes through the Reconciler; readers receive copies.
type TrackedOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            schema.Pair
	Side            schema.TradeSide
	Type            schema.OrderType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	State           schema.OrderState
	FilledBase      decimal.Decimal
	FilledQuote     decimal.Decimal
	CreatedAt       time.Time

	appliedTrades map[string]struct{}
}

// RemainingBase returns the unfilled base amount, floored at zero.
func (o *TrackedOrder) RemainingBase() decimal.Decimal {
	remaining := o.Amount.Sub(o.FilledBase)
	if remaining.Sign() < 0 {
		return decimal.Zero
	}
	return remaining
}

func (o *TrackedOrder) snapshot() TrackedOrder {
	cp := *o
	cp.appliedTrades = nil
	return cp
}

// Tracker owns the in-flight order map keyed by client order id.
type Tracker struct {
	mu     sync.Mutex
	orders map[string]*TrackedOrder
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{orders: make(map[string]*TrackedOrder)}
}

// Track registers a freshly placed order.
func (t *Tracker) Track(order *TrackedOrder) {
	if order.appliedTrades == nil {
		order.appliedTrades = make(map[string]struct{})
	}
	if order.State == "" {
		order.State = schema.StateInserted
	}
	t.mu.Lock()
	t.orders[order.ClientOrderID] = order
	t.mu.Unlock()
}

// Get returns a copy of the tracked order, if present.
func (t *Tracker) Get(clientOrderID string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[clientOrderID]
	if !ok {
		return TrackedOrder{}, false
	}
	return o.snapshot(), true
}

// Active returns copies of all non-terminal orders sorted by client id for
// deterministic polling.
func (t *Tracker) Active() []TrackedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedOrder, 0, len(t.orders))
	for _, o := range t.orders {
		if o.State.Terminal() {
			continue
		}
		out = append(out, o.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out
}

// AdoptExchangeOrderID records the exchange id for a tracked order. An id
// already learned from the stream wins.
func (t *Tracker) AdoptExchangeOrderID(clientOrderID, exchangeOrderID string) {
	if exchangeOrderID == "" {
		return
	}
	t.mu.Lock()
	if o, ok := t.orders[clientOrderID]; ok && o.ExchangeOrderID == "" {
		o.ExchangeOrderID = exchangeOrderID
	}
	t.mu.Unlock()
}

// Remove drops an order from the map.
func (t *Tracker) Remove(clientOrderID string) {
	t.mu.Lock()
	delete(t.orders, clientOrderID)
	t.mu.Unlock()
}

// fillableLocked returns the live record if the order can still accumulate
// fills. Callers must hold t.mu and only touch the record while holding it.
func (t *Tracker) fillableLocked(clientOrderID string) *TrackedOrder {
	o, ok := t.orders[clientOrderID]
	if !ok || o.State.Terminal() {
		return nil
	}
	return o
}

// updatableLocked returns the live record if lifecycle transitions can still
// apply. Callers must hold t.mu.
func (t *Tracker) updatableLocked(clientOrderID string) *TrackedOrder {
	return t.fillableLocked(clientOrderID)
}
