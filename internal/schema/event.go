package schema

import "time"

// EventType identifies consumer-facing connector event categories.
type EventType string

const (
	EventOrderUpdate     EventType = "ORDER.UPDATE"
	EventOrderFill       EventType = "ORDER.FILL"
	EventPositionUpdate  EventType = "POSITION.UPDATE"
	EventPositionRemoved EventType = "POSITION.REMOVED"
	EventBalanceSnapshot EventType = "BALANCE.SNAPSHOT"
)

// Event is the envelope delivered to the strategy layer. Payload holds one of
// OrderUpdate, TradeUpdate, Position, PositionKey or []Balance depending on Type.
type Event struct {
	Type      EventType
	Pair      Pair
	Timestamp time.Time
	Payload   any
}
