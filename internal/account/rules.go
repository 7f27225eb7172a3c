package account

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/rest"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
)

// TradingRule carries the per-pair order constraints published in the market
// summary. Collateral for buys is the quote asset, for sells the base.
type TradingRule struct {
	Pair              schema.Pair
	MinOrderSize      decimal.Decimal
	MaxOrderSize      decimal.Decimal
	MinPriceIncrement decimal.Decimal
	MinSizeIncrement  decimal.Decimal
	BuyCollateral     string
	SellCollateral    string
}

// instrumentRow is one market summary entry.
type instrumentRow struct {
	Symbol            string          `json:"symbol"`
	Base              string          `json:"base"`
	Quote             string          `json:"quote"`
	Active            bool            `json:"active"`
	MinOrderSize      decimal.Decimal `json:"minOrderSize"`
	MaxOrderSize      decimal.Decimal `json:"maxOrderSize"`
	MinPriceIncrement decimal.Decimal `json:"minPriceIncrement"`
	MinSizeIncrement  decimal.Decimal `json:"minSizeIncrement"`
}

func fetchInstruments(ctx context.Context, dispatcher *rest.Dispatcher) ([]instrumentRow, error) {
	raw, err := dispatcher.Get(ctx, rest.EndpointMarketSummary, nil, rest.CallOptions{})
	if err != nil {
		return nil, err
	}
	var rows []instrumentRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errs.New("account/rules", errs.CodeExchange, errs.WithMessage("decode market summary"), errs.WithCause(err))
	}
	return rows, nil
}

// LoadSymbolMap fills the symbol map from the market summary, keeping only
// active contracts. Duplicate contract symbols for one pair defer to the
// map's tie-break.
func LoadSymbolMap(ctx context.Context, dispatcher *rest.Dispatcher, symbolMap *symbols.Map) error {
	rows, err := fetchInstruments(ctx, dispatcher)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !row.Active || row.Base == "" || row.Quote == "" {
			continue
		}
		symbolMap.Put(row.Symbol, schema.CombinePair(row.Base, row.Quote))
	}
	if symbolMap.Len() == 0 {
		return errs.New("account/rules", errs.CodeExchange, errs.WithMessage("market summary lists no active contracts"))
	}
	return nil
}

// FetchTradingRules returns the order constraints for every mapped pair.
func FetchTradingRules(ctx context.Context, dispatcher *rest.Dispatcher, symbolMap *symbols.Map) (map[schema.Pair]TradingRule, error) {
	rows, err := fetchInstruments(ctx, dispatcher)
	if err != nil {
		return nil, err
	}
	rules := make(map[schema.Pair]TradingRule, symbolMap.Len())
	for _, row := range rows {
		pair, err := symbolMap.ResolveInverse(row.Symbol)
		if err != nil {
			continue
		}
		rules[pair] = TradingRule{
			Pair:              pair,
			MinOrderSize:      row.MinOrderSize,
			MaxOrderSize:      row.MaxOrderSize,
			MinPriceIncrement: row.MinPriceIncrement,
			MinSizeIncrement:  row.MinSizeIncrement,
			BuyCollateral:     row.Quote,
			SellCollateral:    row.Base,
		}
	}
	return rules, nil
}
