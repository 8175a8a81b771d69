package atpcerrors

import (
	"errors"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(Consent, "token expired")
	if !Is(err, Consent) {
		t.Fatalf("expected Is to match Consent kind")
	}
	if Is(err, Policy) {
		t.Fatalf("expected Is not to match Policy kind")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(Gateway, "callTool", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if !Is(wrapped, Gateway) {
		t.Fatalf("expected Is to match Gateway kind")
	}
}

func TestErrorStringIncludesOpAndReason(t *testing.T) {
	err := Wrap(Trace, "append", errors.New("finalized"))
	msg := err.Error()
	if !strings.Contains(msg, "append") || !strings.Contains(msg, "finalized") {
		t.Fatalf("expected error message to include op and reason, got %q", msg)
	}
}
