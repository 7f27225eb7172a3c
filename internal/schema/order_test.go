package schema

import "testing"

func TestReachableLifecycleOrder(t *testing.T) {
	cases := []struct {
		name string
		cur  OrderState
		next OrderState
		want bool
	}{
		{"inserted to transacted", StateInserted, StateTransacted, true},
		{"transacted to partial", StateTransacted, StatePartiallyFilled, true},
		{"partial to filled", StatePartiallyFilled, StateFilled, true},
		{"transacted to cancelled", StateTransacted, StateCancelled, true},
		{"transacted to filled", StateTransacted, StateFilled, true},
		{"same state", StatePartiallyFilled, StatePartiallyFilled, false},
		{"backwards", StateFilled, StatePartiallyFilled, false},
		{"terminal to terminal", StateCancelled, StateFailed, false},
		{"unknown next", StateInserted, OrderState("TriggerActivated"), false},
		{"unknown cur", OrderState(""), StateFilled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Reachable(tc.cur, tc.next); got != tc.want {
				t.Fatalf("Reachable(%s, %s) = %v, want %v", tc.cur, tc.next, got, tc.want)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []OrderState{StateFilled, StateCancelled, StateRejected, StateFailed} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderState{StateInserted, StateTransacted, StatePartiallyFilled} {
		if s.Terminal() {
			t.Fatalf("did not expect %s to be terminal", s)
		}
	}
}

func TestPairSplitAndConcatenated(t *testing.T) {
	pair := CombinePair("btc", "usd")
	if pair != Pair("BTC-USD") {
		t.Fatalf("unexpected pair %s", pair)
	}
	base, quote, err := pair.Split()
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if base != "BTC" || quote != "USD" {
		t.Fatalf("unexpected legs %s/%s", base, quote)
	}
	if pair.Concatenated() != "BTCUSD" {
		t.Fatalf("unexpected concatenation %s", pair.Concatenated())
	}
	if err := Pair("BTCUSD").Validate(); err == nil {
		t.Fatal("expected validation error for missing separator")
	}
}
