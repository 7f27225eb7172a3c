package ws

// Stream endpoints. The exchange serves trades, level-1 snapshots, and
// private channels on the futures feed; level-2 deltas come from the separate
// order book feed.
const (
	mainStreamURL      = "wss://ws.paradise.exchange/ws/futures"
	testnetStreamURL   = "wss://ws.testparadise.exchange/ws/futures"
	mainBookFeedURL    = "wss://ws.paradise.exchange/ws/oss/futures"
	testnetBookFeedURL = "wss://ws.testparadise.exchange/ws/oss/futures"
)

// StreamURL returns the futures stream endpoint for the deployment.
func StreamURL(testnet bool) string {
	if testnet {
		return testnetStreamURL
	}
	return mainStreamURL
}

// BookFeedURL returns the order book delta feed endpoint for the deployment.
func BookFeedURL(testnet bool) string {
	if testnet {
		return testnetBookFeedURL
	}
	return mainBookFeedURL
}
