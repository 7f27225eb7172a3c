package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesRetCodeAndCause(t *testing.T) {
	err := New(
		"rest/order",
		CodeExchange,
		WithHTTP(400),
		WithRetCode(10001),
		WithMessage("invalid order payload"),
		WithCause(errors.New("http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "scope=rest/order") {
		t.Fatalf("expected scope marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exchange_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "ret_code <10001>") {
		t.Fatalf("expected formatted ret code in error string: %s", out)
	}
	if !strings.Contains(out, `cause="http 400"`) {
		t.Fatalf("expected cause in error string: %s", out)
	}
}

func TestHasCodeUnwrapsNestedErrors(t *testing.T) {
	inner := New("ws/session", CodeNetwork, WithMessage("receive failed"))
	wrapped := fmt.Errorf("stream loop: %w", inner)

	if !HasCode(wrapped, CodeNetwork) {
		t.Fatalf("expected network code on wrapped error")
	}
	if HasCode(wrapped, CodeExchange) {
		t.Fatalf("did not expect exchange code on wrapped error")
	}
}

func TestErrorsIsMatchesByCodeAndRetCode(t *testing.T) {
	err := New("rest/cancel", CodeExchange, WithRetCode(20001))

	if !errors.Is(err, &E{Code: CodeExchange}) {
		t.Fatalf("expected match on code alone")
	}
	if !errors.Is(err, &E{Code: CodeExchange, RetCode: 20001}) {
		t.Fatalf("expected match on code and ret code")
	}
	if errors.Is(err, &E{Code: CodeExchange, RetCode: 20002}) {
		t.Fatalf("did not expect match on different ret code")
	}
}

func TestRetCodeOfNilAndForeignErrors(t *testing.T) {
	if got := RetCodeOf(errors.New("plain")); got != 0 {
		t.Fatalf("expected 0 for foreign error, got %d", got)
	}
	wrapped := fmt.Errorf("outer: %w", New("rest", CodeExchange, WithRetCode(64)))
	if got := RetCodeOf(wrapped); got != 64 {
		t.Fatalf("expected 64, got %d", got)
	}
}
