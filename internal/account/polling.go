package account

import (
	"context"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/rest"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
)

const (
	defaultPollInterval = 2 * time.Minute
	tradeHistoryCount   = 200
	refreshWorkers      = 4

	// The wallet endpoint takes the wallet group; cross-margin futures live
	// under CROSS@.
	crossWallet = "CROSS@"
)

// Poller periodically reconfirms account state over REST so dropped stream
// messages cannot strand an order or position. Each cycle applies trades
// before statuses: a poll-observed terminal state must never suppress fills
// that precede it.
type Poller struct {
	dispatcher *rest.Dispatcher
	symbols    *symbols.Map
	rec        *Reconciler
	interval   time.Duration

	lastTradeTS time.Time
	log         *logrus.Entry
}

// NewPoller builds a poller over the reconciler. A non-positive interval
// selects the default.
func NewPoller(dispatcher *rest.Dispatcher, symbolMap *symbols.Map, rec *Reconciler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		dispatcher: dispatcher,
		symbols:    symbolMap,
		rec:        rec,
		interval:   interval,
		log:        logging.Component("account").WithField("source", "poll"),
	}
}

// Run drives reconciliation cycles until ctx is cancelled. The first cycle
// runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.WithError(err).Warn("reconciliation cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one full reconciliation pass: trades, then order statuses, then
// balances and positions.
func (p *Poller) Cycle(ctx context.Context) error {
	if err := p.pollTrades(ctx); err != nil {
		return err
	}
	if err := p.pollStatuses(ctx); err != nil {
		return err
	}
	refresh := pool.New().WithMaxGoroutines(2).WithContext(ctx)
	refresh.Go(p.RefreshBalances)
	refresh.Go(p.RefreshPositions)
	return refresh.Wait()
}

// pollTrades fetches recent trade history per pair and applies every fill.
// Per-pair failures are logged and skipped so one pair cannot starve the rest.
func (p *Poller) pollTrades(ctx context.Context) error {
	since := p.lastTradeTS
	newest := since
	for _, pair := range p.symbols.Pairs() {
		symbol, err := p.symbols.Resolve(pair)
		if err != nil {
			continue
		}
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("count", strconv.Itoa(tradeHistoryCount))
		if !since.IsZero() {
			params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
		}
		raw, err := p.dispatcher.Get(ctx, rest.EndpointTradeHistory, params, rest.CallOptions{
			AuthRequired: true,
			Pair:         pair,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.WithError(err).WithField("pair", pair).Warn("trade history poll failed")
			continue
		}
		var rows []tradeEventRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			p.log.WithError(err).WithField("pair", pair).Warn("undecodable trade history skipped")
			continue
		}
		for _, row := range rows {
			tu := row.toTradeUpdate()
			if tu.Timestamp.After(newest) {
				newest = tu.Timestamp
			}
			if err := p.rec.ProcessTradeUpdate(ctx, tu); err != nil {
				return err
			}
		}
	}
	p.lastTradeTS = newest
	return nil
}

// pollStatuses queries every active order. A not-found response means the
// exchange lost or never accepted the order; the reconciler fails it.
func (p *Poller) pollStatuses(ctx context.Context) error {
	for _, order := range p.rec.Tracker().Active() {
		symbol, err := p.symbols.Resolve(order.Pair)
		if err != nil {
			continue
		}
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("clOrderID", order.ClientOrderID)
		if order.ExchangeOrderID != "" {
			params.Set("orderID", order.ExchangeOrderID)
		}
		raw, err := p.dispatcher.Get(ctx, rest.EndpointOrder, params, rest.CallOptions{
			AuthRequired: true,
			Pair:         order.Pair,
			LimitID:      rest.OrderQueryLimitID,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errs.HasCode(err, errs.CodeNotFound) {
				if err := p.rec.MarkNotFound(ctx, order.ClientOrderID); err != nil {
					return err
				}
				continue
			}
			p.log.WithError(err).WithField("client_order_id", order.ClientOrderID).Warn("order status poll failed")
			continue
		}
		var rows []orderEventRow
		if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
			p.log.WithField("client_order_id", order.ClientOrderID).Warn("order status response empty")
			continue
		}
		ou, ok := rows[0].toOrderUpdate(time.Now())
		if !ok {
			continue
		}
		ou.ClientOrderID = order.ClientOrderID
		if err := p.rec.ProcessOrderUpdate(ctx, ou); err != nil {
			return err
		}
	}
	return nil
}

// RefreshBalances replaces the wallet snapshot from the cross wallet.
func (p *Poller) RefreshBalances(ctx context.Context) error {
	params := url.Values{}
	params.Set("wallet", crossWallet)
	raw, err := p.dispatcher.Get(ctx, rest.EndpointWallet, params, rest.CallOptions{AuthRequired: true})
	if err != nil {
		return err
	}
	var wallets []walletRow
	if err := json.Unmarshal(raw, &wallets); err != nil {
		return errs.New("account/wallet", errs.CodeExchange, errs.WithMessage("decode wallet"), errs.WithCause(err))
	}
	if len(wallets) == 0 {
		return p.rec.ReplaceBalances(ctx, nil)
	}
	wallet := wallets[0]
	balances := make([]schema.Balance, 0, len(wallet.Assets))
	for _, asset := range wallet.Assets {
		balances = append(balances, schema.Balance{
			Asset:     asset.Currency,
			Total:     asset.Balance,
			Available: wallet.AvailableBalance,
		})
	}
	return p.rec.ReplaceBalances(ctx, balances)
}

// RefreshPositions re-reads open positions per pair. Pairs absent from the
// response keep their last pushed state; zero-size rows remove the slot.
func (p *Poller) RefreshPositions(ctx context.Context) error {
	work := pool.New().WithMaxGoroutines(refreshWorkers).WithContext(ctx)
	for _, pair := range p.symbols.Pairs() {
		work.Go(func(ctx context.Context) error {
			return p.refreshPairPositions(ctx, pair)
		})
	}
	return work.Wait()
}

func (p *Poller) refreshPairPositions(ctx context.Context, pair schema.Pair) error {
	symbol, err := p.symbols.Resolve(pair)
	if err != nil {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := p.dispatcher.Get(ctx, rest.EndpointPositions, params, rest.CallOptions{
		AuthRequired: true,
		Pair:         pair,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.WithError(err).WithField("pair", pair).Warn("position poll failed")
		return nil
	}
	var rows []positionRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return errs.New("account/positions", errs.CodeExchange, errs.WithMessage("decode positions"), errs.WithCause(err))
	}
	for _, row := range rows {
		if err := p.rec.ApplyPosition(ctx, row.toPosition(pair)); err != nil {
			return err
		}
	}
	return nil
}
