// Package rest dispatches signed, rate-limited REST calls to the exchange.
package rest

import (
	"time"

	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/throttler"
)

// Environment selects the exchange deployment.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvTestnet    Environment = "testnet"
)

// BaseURL returns the REST base URL for the environment.
func (e Environment) BaseURL() string {
	if e == EnvTestnet {
		return "https://api.testparadise.exchange"
	}
	return "https://api.paradise.exchange"
}

const apiVersion = "/futures/api/v2.1"

// REST endpoint paths. Futures paths share the versioned prefix; the signed
// message uses the path with the "/futures" segment stripped.
const (
	EndpointMarketSummary = apiVersion + "/market_summary"
	EndpointLatestPrice   = apiVersion + "/price"
	EndpointOrderBook     = apiVersion + "/orderbook/L2"
	EndpointServerTime    = "/spot/api/v3.2/time"
	EndpointLeverage      = apiVersion + "/leverage"
	EndpointPositions     = apiVersion + "/user/positions"
	EndpointOrder         = apiVersion + "/order"
	EndpointTradeHistory  = apiVersion + "/user/trade_history"
	EndpointWallet        = apiVersion + "/user/wallet"
	EndpointPositionMode  = apiVersion + "/position_mode"
)

// Exchange business response codes.
const (
	RetCodeOK                   = 20
	RetCodeParamsError          = 10001
	RetCodeAPIKeyInvalid        = 10003
	RetCodeAuthTimestampError   = 10021
	RetCodeOrderNotExists       = 20001
	RetCodeModePositionNotEmpty = 30082
	RetCodeModeNotModified      = 30083
	RetCodeModeOrderNotEmpty    = 30086
	RetCodeAPIKeyExpired        = 33004
	RetCodeLeverageLiquidation  = 64
	RetCodePositionZero         = 130125
)

// Shared rate limit bucket ids. Order placement and cancellation throttle on
// the endpoint path; status queries use their own read bucket because the
// exchange budgets them separately despite the shared path.
const (
	GetLimitID        = "GETLimit"
	PostLimitID       = "POSTLimit"
	RequestWeightID   = "REQUEST_WEIGHT"
	Orders1MinID      = "ORDERS_1MIN"
	Orders1SecID      = "ORDERS_1SEC"
	OrderQueryLimitID = "OrderQuery"
)

// Per-second verb budgets published by the exchange.
const (
	getRate  = 49
	postRate = 19
)

// DefaultRateLimits builds the bucket set for the given trading pairs:
// global per-verb buckets, public endpoint buckets linked to the GET verb,
// shared weight buckets, and pair-scoped buckets for the private endpoints.
func DefaultRateLimits(pairs []schema.Pair) []throttler.RateLimit {
	limits := []throttler.RateLimit{
		{ID: GetLimitID, Limit: getRate, Interval: time.Second},
		{ID: PostLimitID, Limit: postRate, Interval: time.Second},
		{ID: RequestWeightID, Limit: 2400, Interval: time.Minute},
		{ID: Orders1MinID, Limit: 1200, Interval: time.Minute},
		{ID: Orders1SecID, Limit: 300, Interval: 10 * time.Second},
	}

	gets := []throttler.LinkedLimit{{ID: GetLimitID, Weight: 1}}
	for _, endpoint := range []string{
		EndpointLatestPrice,
		EndpointMarketSummary,
		EndpointOrderBook,
		EndpointServerTime,
	} {
		limits = append(limits, throttler.RateLimit{
			ID: endpoint, Limit: getRate, Interval: time.Second, LinkedLimits: gets,
		})
	}

	limits = append(limits,
		throttler.RateLimit{ID: EndpointWallet, Limit: 120, Interval: time.Minute, LinkedLimits: gets},
		throttler.RateLimit{ID: EndpointPositionMode, Limit: 120, Interval: time.Minute, LinkedLimits: gets},
	)

	for _, pair := range pairs {
		limits = append(limits, pairRateLimits(pair)...)
	}
	return limits
}

func pairRateLimits(pair schema.Pair) []throttler.RateLimit {
	getWeighted := []throttler.LinkedLimit{
		{ID: GetLimitID, Weight: 1},
		{ID: RequestWeightID, Weight: 1},
	}
	postOrders := []throttler.LinkedLimit{
		{ID: PostLimitID, Weight: 1},
		{ID: Orders1SecID, Weight: 1},
		{ID: Orders1MinID, Weight: 1},
	}
	p := string(pair)
	return []throttler.RateLimit{
		{ID: throttler.PairLimitID(EndpointLeverage, p), Limit: 75, Interval: time.Minute,
			LinkedLimits: []throttler.LinkedLimit{{ID: PostLimitID, Weight: 1}, {ID: RequestWeightID, Weight: 1}}},
		{ID: throttler.PairLimitID(EndpointMarketSummary, p), Limit: 120, Interval: time.Minute, LinkedLimits: getWeighted},
		{ID: throttler.PairLimitID(EndpointPositions, p), Limit: 120, Interval: time.Minute, LinkedLimits: getWeighted},
		{ID: throttler.PairLimitID(EndpointOrder, p), Limit: 100, Interval: time.Minute, LinkedLimits: postOrders},
		{ID: throttler.PairLimitID(OrderQueryLimitID, p), Limit: 600, Interval: time.Minute, LinkedLimits: getWeighted},
		{ID: throttler.PairLimitID(EndpointTradeHistory, p), Limit: 120, Interval: time.Minute,
			LinkedLimits: []throttler.LinkedLimit{{ID: GetLimitID, Weight: 1}}},
	}
}
