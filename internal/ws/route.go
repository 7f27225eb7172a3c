package ws

import "strings"

// Stream channel names. Public book and trade channels address symbols with a
// colon-delimited suffix; the instrument-info channel is dot-delimited;
// private channels carry no symbol suffix.
const (
	ChannelTrades         = "tradeHistoryApi"
	ChannelOrderBook      = "snapshotL1"
	ChannelBookDelta      = "update"
	ChannelInstrumentInfo = "instrument_info.100ms"
	ChannelPositions      = "positions"
	ChannelFills          = "fills"
	ChannelNotifications  = "notificationApiV2"
	ChannelWallet         = "wallet"
)

// PublicTopic renders a colon-delimited subscription argument for the given
// symbols.
func PublicTopic(channel string, symbols []string) string {
	return channel + ":" + strings.Join(symbols, "|")
}

// InstrumentTopic renders the dot-delimited instrument-info subscription
// argument.
func InstrumentTopic(symbols []string) string {
	return ChannelInstrumentInfo + "." + strings.Join(symbols, "|")
}

// RouteTopic reduces a raw message topic to the stable key handlers register
// under. Colon-delimited topics drop the trailing symbol list and rejoin the
// remaining segments with dots; dotted topics drop only the trailing symbol
// segment; bare private topics pass through unchanged.
func RouteTopic(topic string) string {
	if strings.Contains(topic, ":") {
		parts := strings.Split(topic, ":")
		return strings.Join(parts[:len(parts)-1], ".")
	}
	if strings.Count(topic, ".") >= 2 {
		return topic[:strings.LastIndex(topic, ".")]
	}
	return topic
}

// TopicSymbol extracts the trailing symbol segment from a routed topic, or
// empty when the topic carries none.
func TopicSymbol(topic string) string {
	if i := strings.LastIndex(topic, ":"); i >= 0 {
		return topic[i+1:]
	}
	if strings.Count(topic, ".") >= 2 {
		return topic[strings.LastIndex(topic, ".")+1:]
	}
	return ""
}
