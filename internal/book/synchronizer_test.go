package book

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
)

func testSynchronizer() *Synchronizer {
	m := symbols.NewMap()
	m.Put("BTCPFC", schema.Pair("BTC-USD"))
	return NewSynchronizer(nil, m)
}

func TestHandleBookMessageSnapshotThenDelta(t *testing.T) {
	s := testSynchronizer()
	ctx := context.Background()

	snapshot := json.RawMessage(`{"type":"snapshot","timestamp":1700000000000000,` +
		`"bids":[["100","1"],["99","2"]],"asks":[["101","1"]]}`)
	if err := s.HandleBookMessage(ctx, "update:BTCPFC", snapshot); err != nil {
		t.Fatalf("snapshot message: %v", err)
	}
	ev := <-s.Events()
	if ev.Type != schema.BookSnapshot || ev.Pair != schema.Pair("BTC-USD") {
		t.Fatalf("unexpected event %+v", ev)
	}

	delta := json.RawMessage(`{"type":"delta","timestamp":1700000000500000,` +
		`"bids":[["100","0"]],"asks":[]}`)
	if err := s.HandleBookMessage(ctx, "update:BTCPFC", delta); err != nil {
		t.Fatalf("delta message: %v", err)
	}
	ev = <-s.Events()
	if ev.Type != schema.BookDiff || ev.UpdateID <= 0 {
		t.Fatalf("unexpected diff event %+v", ev)
	}

	bids := s.Pair(schema.Pair("BTC-USD")).Bids()
	if len(bids) != 1 {
		t.Fatalf("level delete not applied, bids %v", bids)
	}
}

func TestHandleBookMessageUnknownSymbol(t *testing.T) {
	s := testSynchronizer()
	err := s.HandleBookMessage(context.Background(), "update:ETHPFC",
		json.RawMessage(`{"type":"delta","timestamp":1,"bids":[],"asks":[]}`))
	if err == nil {
		t.Fatal("expected resolve error for unknown symbol")
	}
}

func TestHandleTradeMessage(t *testing.T) {
	s := testSynchronizer()
	data := json.RawMessage(`[
		{"symbol":"BTCPFC","tradeId":123456,"side":"SELL","price":100.5,"size":0.25,"timestamp":1700000000000},
		{"symbol":"UNKNOWN","tradeId":2,"side":"BUY","price":1,"size":1,"timestamp":1700000000001}
	]`)
	if err := s.HandleTradeMessage(context.Background(), "tradeHistoryApi:BTCPFC", data); err != nil {
		t.Fatalf("trade message: %v", err)
	}

	trade := <-s.Trades()
	if trade.TradeID != "123456" || trade.Side != schema.SideSell {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if trade.Pair != schema.Pair("BTC-USD") {
		t.Fatalf("unexpected pair %s", trade.Pair)
	}

	select {
	case extra := <-s.Trades():
		t.Fatalf("trade for unknown symbol emitted: %+v", extra)
	default:
	}
}
