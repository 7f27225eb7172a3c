package schema

import "github.com/shopspring/decimal"

// PositionSide distinguishes long and short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionAction states whether a fill opens or closes exposure.
type PositionAction string

const (
	PositionActionNil   PositionAction = ""
	PositionActionOpen  PositionAction = "OPEN"
	PositionActionClose PositionAction = "CLOSE"
)

// PositionMode selects between one-way and hedged position accounting.
type PositionMode string

const (
	PositionModeOneWay PositionMode = "ONE_WAY"
	PositionModeHedge  PositionMode = "HEDGE"
)

// PositionKey identifies one position slot.
type PositionKey struct {
	Pair Pair
	Side PositionSide
}

// Position is a signed net exposure in one pair on one side. Amount is
// negative for shorts. A position whose amount reaches zero is removed from
// the position map rather than stored at zero.
type Position struct {
	Pair          Pair
	Side          PositionSide
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Key returns the map key for the position.
func (p Position) Key() PositionKey {
	return PositionKey{Pair: p.Pair, Side: p.Side}
}

// Balance is one asset row of the account wallet.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}
