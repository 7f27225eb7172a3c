package rest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/throttler"
)

func TestDefaultRateLimitsBuildValidThrottler(t *testing.T) {
	limits := DefaultRateLimits([]schema.Pair{"BTC-USD", "ETH-USD"})
	_, err := throttler.New(nil, limits)
	require.NoError(t, err)
}

func TestOrderBucketLinksSharedOrderBudgets(t *testing.T) {
	limits := DefaultRateLimits([]schema.Pair{"BTC-USD"})
	var order *throttler.RateLimit
	for i := range limits {
		if limits[i].ID == throttler.PairLimitID(EndpointOrder, "BTC-USD") {
			order = &limits[i]
			break
		}
	}
	require.NotNil(t, order, "pair order bucket missing")

	linked := make(map[string]bool, len(order.LinkedLimits))
	for _, l := range order.LinkedLimits {
		linked[l.ID] = true
	}
	for _, id := range []string{PostLimitID, Orders1SecID, Orders1MinID} {
		require.True(t, linked[id], "order bucket does not drain %s", id)
	}
}
