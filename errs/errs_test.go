package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorStringIncludesParts(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := New("transport.send", CodeNetwork,
		WithMessage("write failed"),
		WithRawCode("EPIPE"),
		WithCause(cause),
	)

	got := err.Error()
	for _, want := range []string{
		"op=transport.send",
		"code=network",
		`message="write failed"`,
		`raw_code="EPIPE"`,
		`cause="connection reset by peer"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("ledger.set", CodeStore, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("send: %w", NotConnected("transport.send"))

	if !errors.Is(err, New("", CodeNotConnected)) {
		t.Fatalf("expected wrapped error to match CodeNotConnected")
	}
	if errors.Is(err, New("", CodeAuth)) {
		t.Fatalf("did not expect wrapped error to match CodeAuth")
	}
}

func TestNilErrorString(t *testing.T) {
	var err *E
	if got := err.Error(); got != "<nil>" {
		t.Fatalf("nil Error() = %q, want <nil>", got)
	}
}
