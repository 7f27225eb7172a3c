package book

import (
	"context"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/nonce"
	"github.com/quantfabric/paradise/internal/rest"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
	"github.com/quantfabric/paradise/internal/ws"
)

const (
	eventBuffer = 256
	tradeBuffer = 256
	seedWorkers = 4
)

// Synchronizer owns one Book per tracked pair. It seeds books from REST
// snapshots, applies stream deltas, and publishes the resulting ordered event
// sequence. Public trade prints travel on a separate channel and never
// interleave with book ordering.
type Synchronizer struct {
	dispatcher *rest.Dispatcher
	symbols    *symbols.Map
	nonce      *nonce.Generator
	books      map[schema.Pair]*Book
	events     chan schema.BookEvent
	trades     chan schema.PublicTrade
	log        *logrus.Entry
}

// NewSynchronizer builds books for every pair known to the symbol map.
func NewSynchronizer(dispatcher *rest.Dispatcher, symbolMap *symbols.Map) *Synchronizer {
	books := make(map[schema.Pair]*Book)
	for _, pair := range symbolMap.Pairs() {
		books[pair] = NewBook(pair)
	}
	return &Synchronizer{
		dispatcher: dispatcher,
		symbols:    symbolMap,
		nonce:      nonce.NewGenerator(),
		books:      books,
		events:     make(chan schema.BookEvent, eventBuffer),
		trades:     make(chan schema.PublicTrade, tradeBuffer),
		log:        logging.Component("book"),
	}
}

// Events is the ordered per-pair book event sequence.
func (s *Synchronizer) Events() <-chan schema.BookEvent { return s.events }

// Trades is the public trade print sequence.
func (s *Synchronizer) Trades() <-chan schema.PublicTrade { return s.trades }

// Pair returns the book for a pair, or nil when untracked.
func (s *Synchronizer) Pair(pair schema.Pair) *Book { return s.books[pair] }

// Seed fetches a REST snapshot for every tracked pair concurrently. The first
// failure cancels the batch.
func (s *Synchronizer) Seed(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(seedWorkers).WithContext(ctx).WithCancelOnError()
	for pair := range s.books {
		p.Go(func(ctx context.Context) error {
			return s.SnapshotPair(ctx, pair)
		})
	}
	return p.Wait()
}

type quoteRow struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type snapshotPayload struct {
	Symbol    string     `json:"symbol"`
	Timestamp int64      `json:"timestamp"`
	BuyQuote  []quoteRow `json:"buyQuote"`
	SellQuote []quoteRow `json:"sellQuote"`
}

// SnapshotPair fetches the L2 book for one pair and resets its state. The
// snapshot's update id is drawn from the shared nonce sequence so buffered
// deltas order correctly against it.
func (s *Synchronizer) SnapshotPair(ctx context.Context, pair schema.Pair) error {
	symbol, err := s.symbols.Resolve(pair)
	if err != nil {
		return err
	}
	b, ok := s.books[pair]
	if !ok {
		return errs.New("book", errs.CodeNotFound, errs.WithMessage("untracked pair "+string(pair)))
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := s.dispatcher.Get(ctx, rest.EndpointOrderBook, params, rest.CallOptions{})
	if err != nil {
		return err
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errs.New("book", errs.CodeInvalid, errs.WithMessage("decode book snapshot"), errs.WithCause(err))
	}

	ts := time.UnixMilli(payload.Timestamp)
	ev := schema.BookEvent{
		Type:      schema.BookSnapshot,
		Pair:      pair,
		UpdateID:  s.nonce.Next(ts),
		Timestamp: ts,
		Bids:      quoteLevels(payload.BuyQuote),
		Asks:      quoteLevels(payload.SellQuote),
	}
	applied, err := b.ApplySnapshot(ev)
	if err != nil {
		return err
	}
	for _, out := range applied {
		if err := s.emit(ctx, out); err != nil {
			return err
		}
	}
	s.log.WithFields(logrus.Fields{
		"pair":      string(pair),
		"update_id": ev.UpdateID,
		"bids":      len(ev.Bids),
		"asks":      len(ev.Asks),
	}).Info("book snapshot applied")
	return nil
}

type deltaPayload struct {
	Type      string     `json:"type"`
	Timestamp int64      `json:"timestamp"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

// HandleBookMessage is the stream handler for the book delta channel. The
// payload carries its own type tag; full payloads reset the book and deltas
// append. Stale deltas are dropped.
func (s *Synchronizer) HandleBookMessage(ctx context.Context, topic string, data json.RawMessage) error {
	// The delta feed addresses symbols with a grouping suffix, e.g. BTCPFC_0.
	symbol := strings.TrimSuffix(ws.TopicSymbol(topic), "_0")
	pair, err := s.symbols.ResolveInverse(symbol)
	if err != nil {
		return err
	}
	b, ok := s.books[pair]
	if !ok {
		return nil
	}

	var payload deltaPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return errs.New("book", errs.CodeInvalid, errs.WithMessage("decode book delta"), errs.WithCause(err))
	}

	// Delta timestamps are microseconds.
	ts := time.UnixMicro(payload.Timestamp)
	ev := schema.BookEvent{
		Pair:      pair,
		UpdateID:  s.nonce.Next(ts),
		Timestamp: ts,
		Bids:      wireLevels(payload.Bids),
		Asks:      wireLevels(payload.Asks),
	}

	switch payload.Type {
	case "snapshot":
		ev.Type = schema.BookSnapshot
		applied, err := b.ApplySnapshot(ev)
		if err != nil {
			return err
		}
		for _, out := range applied {
			if err := s.emit(ctx, out); err != nil {
				return err
			}
		}
		return nil
	case "delta":
		ev.Type = schema.BookDiff
		applied, err := b.ApplyDiff(ev)
		if err != nil {
			if errs.HasCode(err, errs.CodeStale) {
				s.log.WithField("pair", string(pair)).Debug("stale book delta dropped")
				return nil
			}
			return err
		}
		if !applied {
			return nil
		}
		return s.emit(ctx, ev)
	default:
		return nil
	}
}

type tradeRow struct {
	Symbol    string          `json:"symbol"`
	TradeID   json.Number     `json:"tradeId"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp int64           `json:"timestamp"`
}

// HandleTradeMessage is the stream handler for the public trade channel.
func (s *Synchronizer) HandleTradeMessage(ctx context.Context, _ string, data json.RawMessage) error {
	var rows []tradeRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return errs.New("book", errs.CodeInvalid, errs.WithMessage("decode trade prints"), errs.WithCause(err))
	}
	for _, row := range rows {
		pair, err := s.symbols.ResolveInverse(row.Symbol)
		if err != nil {
			continue
		}
		side := schema.SideBuy
		if row.Side == "SELL" {
			side = schema.SideSell
		}
		trade := schema.PublicTrade{
			TradeID:   row.TradeID.String(),
			Pair:      pair,
			Side:      side,
			Price:     row.Price,
			Size:      row.Size,
			Timestamp: time.UnixMilli(row.Timestamp),
		}
		select {
		case s.trades <- trade:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Synchronizer) emit(ctx context.Context, ev schema.BookEvent) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func quoteLevels(rows []quoteRow) []schema.PriceLevel {
	out := make([]schema.PriceLevel, 0, len(rows))
	for _, row := range rows {
		out = append(out, schema.PriceLevel{Price: row.Price, Size: row.Size})
	}
	return out
}

func wireLevels(rows [][]string) []schema.PriceLevel {
	out := make([]schema.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			continue
		}
		out = append(out, schema.PriceLevel{Price: price, Size: size})
	}
	return out
}
