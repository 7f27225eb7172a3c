package account

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/auth"
	"github.com/quantfabric/paradise/internal/clock"
	"github.com/quantfabric/paradise/internal/rest"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
	"github.com/quantfabric/paradise/internal/throttler"
)

type stubDoer struct {
	requests []*http.Request
	bodies   []string
	handler  func(req *http.Request) (*http.Response, error)
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		d.bodies = append(d.bodies, string(raw))
	} else {
		d.bodies = append(d.bodies, "")
	}
	return d.handler(req)
}

func httpResponse(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func testTrader(t *testing.T, doer *stubDoer) (*Trader, *Reconciler) {
	t.Helper()
	clk := clock.NewSynchronized(clock.Func(func() time.Time {
		return time.UnixMilli(1_700_000_000_000)
	}))
	signer, err := auth.NewSigner("key", "secret", clk)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	th, err := throttler.New(clk, rest.DefaultRateLimits([]schema.Pair{"BTC-USD"}))
	if err != nil {
		t.Fatalf("throttler: %v", err)
	}
	dispatcher, err := rest.NewDispatcher(rest.Options{
		Environment: rest.EnvTestnet,
		HTTPClient:  doer,
		Signer:      signer,
		Throttler:   th,
		Clock:       clk,
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	m := symbols.NewMap()
	m.Put("BTCPFC", schema.Pair("BTC-USD"))
	rec := NewReconciler(NewTracker())
	return NewTrader(dispatcher, m, rec), rec
}

func TestNewClientOrderID(t *testing.T) {
	id := NewClientOrderID()
	if len(id) > 36 {
		t.Fatalf("id too long: %q", id)
	}
	if !strings.HasPrefix(id, "qf") {
		t.Fatalf("missing prefix: %q", id)
	}
	if id == NewClientOrderID() {
		t.Fatal("ids not unique")
	}
}

func TestPositionIndex(t *testing.T) {
	cases := []struct {
		name    string
		mode    schema.PositionMode
		side    schema.TradeSide
		action  schema.PositionAction
		want    int
		wantErr bool
	}{
		{name: "one-way open buy", mode: schema.PositionModeOneWay, side: schema.SideBuy, action: schema.PositionActionOpen, want: 0},
		{name: "one-way open sell", mode: schema.PositionModeOneWay, side: schema.SideSell, action: schema.PositionActionOpen, want: 0},
		{name: "one-way close rejected", mode: schema.PositionModeOneWay, side: schema.SideSell, action: schema.PositionActionClose, wantErr: true},
		{name: "hedge buy open", mode: schema.PositionModeHedge, side: schema.SideBuy, action: schema.PositionActionOpen, want: 1},
		{name: "hedge buy close", mode: schema.PositionModeHedge, side: schema.SideBuy, action: schema.PositionActionClose, want: 2},
		{name: "hedge sell open", mode: schema.PositionModeHedge, side: schema.SideSell, action: schema.PositionActionOpen, want: 2},
		{name: "hedge sell close", mode: schema.PositionModeHedge, side: schema.SideSell, action: schema.PositionActionClose, want: 1},
		{name: "nil action rejected", mode: schema.PositionModeHedge, side: schema.SideBuy, action: schema.PositionActionNil, wantErr: true},
		{name: "unknown side rejected", mode: schema.PositionModeHedge, side: schema.TradeSide("RANGE"), action: schema.PositionActionOpen, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := positionIndex(tc.mode, tc.side, tc.action)
			if tc.wantErr {
				if !errs.HasCode(err, errs.CodeInvalid) {
					t.Fatalf("expected invalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("index %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlaceOrderTracksAndAdoptsExchangeID(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusOK, `[{"orderID":987654}]`)
	}}
	trader, rec := testTrader(t, doer)

	id, err := trader.PlaceOrder(context.Background(), OrderRequest{
		Pair:   schema.Pair("BTC-USD"),
		Side:   schema.SideBuy,
		Type:   schema.OrderTypeLimit,
		Amount: dec("0.5"),
		Price:  dec("30000"),
		Action: schema.PositionActionOpen,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	order, ok := rec.Tracker().Get(id)
	if !ok {
		t.Fatal("order not tracked")
	}
	if order.ExchangeOrderID != "987654" {
		t.Fatalf("exchange id not adopted, got %q", order.ExchangeOrderID)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(doer.bodies[0]), &body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if body["symbol"] != "BTCPFC" || body["type"] != "Limit" || body["time_in_force"] != "GTC" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["reduceOnly"] != false || body["positionMode"] != float64(0) {
		t.Fatalf("unexpected position fields %v", body)
	}
	if body["clOrderID"] != id {
		t.Fatalf("client id mismatch: %v vs %s", body["clOrderID"], id)
	}
}

func TestPlaceOrderRejectionRemovesTracking(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusBadRequest, `{"status":10001,"message":"size too small"}`)
	}}
	trader, rec := testTrader(t, doer)

	_, err := trader.PlaceOrder(context.Background(), OrderRequest{
		Pair:          schema.Pair("BTC-USD"),
		Side:          schema.SideSell,
		Type:          schema.OrderTypeMarket,
		Amount:        dec("0.1"),
		Action:        schema.PositionActionOpen,
		ClientOrderID: "reject-me",
	})
	if !errs.HasCode(err, errs.CodeExchange) {
		t.Fatalf("expected exchange error, got %v", err)
	}
	if _, ok := rec.Tracker().Get("reject-me"); ok {
		t.Fatal("rejected order still tracked")
	}
}

func TestCancelOrderNotExistsMarksNotFound(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusBadRequest, `{"status":20001,"message":"order not exists"}`)
	}}
	trader, rec := testTrader(t, doer)
	rec.Tracker().Track(&TrackedOrder{
		ClientOrderID: "gone",
		Pair:          schema.Pair("BTC-USD"),
		Side:          schema.SideBuy,
		Type:          schema.OrderTypeLimit,
		Amount:        dec("1"),
	})

	if err := trader.CancelOrder(context.Background(), "gone"); err != nil {
		t.Fatalf("cancel of vanished order should succeed, got %v", err)
	}
	if _, ok := rec.Tracker().Get("gone"); ok {
		t.Fatal("vanished order still tracked")
	}
	ev := <-rec.Events()
	update := ev.Payload.(schema.OrderUpdate)
	if update.NewState != schema.StateFailed {
		t.Fatalf("expected Failed, got %s", update.NewState)
	}
}

func TestSetLeverageToleratesLiquidation(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusBadRequest, `{"status":64,"message":"liquidation in progress"}`)
	}}
	trader, _ := testTrader(t, doer)
	if err := trader.SetLeverage(context.Background(), schema.Pair("BTC-USD"), 10); err != nil {
		t.Fatalf("leverage during liquidation should succeed, got %v", err)
	}
}

func TestSetPositionModeToleratesNotModified(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusBadRequest, `{"status":30083,"message":"mode not modified"}`)
	}}
	trader, _ := testTrader(t, doer)
	if err := trader.SetPositionMode(context.Background(), schema.PositionModeHedge); err != nil {
		t.Fatalf("unchanged mode should succeed, got %v", err)
	}
	if trader.PositionMode() != schema.PositionModeHedge {
		t.Fatalf("mode not recorded, got %s", trader.PositionMode())
	}
}

func TestLastTradedPrice(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusOK, `[{"lastPrice":"30123.5"}]`)
	}}
	trader, _ := testTrader(t, doer)
	price, err := trader.LastTradedPrice(context.Background(), schema.Pair("BTC-USD"))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(dec("30123.5")) {
		t.Fatalf("unexpected price %s", price)
	}
}

func TestLastFundingPayment(t *testing.T) {
	doer := &stubDoer{handler: func(*http.Request) (*http.Response, error) {
		return httpResponse(http.StatusOK,
			`[{"fundingRate":"0.0001","size":"2","fundingTime":"2026-08-31T08:00:00Z"}]`)
	}}
	trader, _ := testTrader(t, doer)
	payment, err := trader.LastFundingPayment(context.Background(), schema.Pair("BTC-USD"))
	if err != nil {
		t.Fatalf("funding: %v", err)
	}
	if !payment.Payment.Equal(dec("0.0002")) {
		t.Fatalf("unexpected payment %s", payment.Payment)
	}
	if payment.Timestamp.IsZero() {
		t.Fatal("funding time not parsed")
	}
}
