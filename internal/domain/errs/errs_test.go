package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesFieldsAndCause(t *testing.T) {
	err := New(
		"session",
		CodeExchange,
		WithMessage("subscribe rejected"),
		WithRawCode("30001"),
		WithRawMessage("channel does not exist"),
		WithField("account", "acct-1"),
		WithField("topic", "position"),
		WithCause(errors.New("bitget error 30001")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=session") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exchange_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	expectedFields := `fields=account="acct-1",topic="position"`
	if !strings.Contains(out, expectedFields) {
		t.Fatalf("expected fields %q in error string: %s", expectedFields, out)
	}
	if !strings.Contains(out, `raw_code="30001"`) {
		t.Fatalf("expected raw code in error string: %s", out)
	}
	if !strings.Contains(out, `cause="bitget error 30001"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestContractWrapsSentinel(t *testing.T) {
	err := Contract("session/manager", ErrAlreadyOpen, WithField("account", "a1"))
	if !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected errors.Is to match ErrAlreadyOpen")
	}
	if err.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %q", err.Code)
	}
	if CodeOf(Contract("registry", ErrUnknownSubscription)) != CodeNotFound {
		t.Fatalf("expected not_found for unknown subscription")
	}
	if CodeOf(Contract("session", ErrInvalidTopic)) != CodeInvalid {
		t.Fatalf("expected invalid_request for invalid topic")
	}
}

func TestBlankFieldKeyIgnored(t *testing.T) {
	err := New("x", CodeInvalid, WithField("  ", "v"))
	if len(err.Fields) != 0 {
		t.Fatalf("expected blank key to be dropped, got %v", err.Fields)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain errors")
	}
}
