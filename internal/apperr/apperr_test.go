package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestUnavailableWrapsAndMatchesSentinel(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable("mirror.refresh", cause)
	if !errors.Is(err, ErrUnavailableBackend) {
		t.Fatalf("expected ErrUnavailableBackend, got %v", err)
	}
	if errors.Is(err, ErrUserRejected) {
		t.Fatal("unavailable must not match ErrUserRejected")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable via errors.Is")
	}
	if got := err.Error(); got != "mirror.refresh: unavailable backend: dial tcp: refused" {
		t.Fatalf("Error() = %q", got)
	}
	if KindOf(err) != KindUnavailableBackend {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", Rejected("wallet.request_accounts", errors.New("rpc 4001: denied")))
	if KindOf(err) != KindUserRejected {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
	if !errors.Is(err, ErrUserRejected) {
		t.Fatal("expected ErrUserRejected through fmt wrapping")
	}
	if StatusCode(err) != http.StatusForbidden {
		t.Fatalf("status = %d", StatusCode(err))
	}
}

func TestInvalidMessage(t *testing.T) {
	err := Invalid("session.handle_change", "unknown form field %q", "nope")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.Msg() != `unknown form field "nope"` {
		t.Fatalf("Msg() = %q", e.Msg())
	}
	if e.StatusCode() != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", e.StatusCode())
	}
	if !strings.HasPrefix(err.Error(), "session.handle_change: ") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestUnavailableMsgAndDefaults(t *testing.T) {
	err := UnavailableMsg("session.connect_wallet", "install a wallet")
	var e *Error
	_ = errors.As(err, &e)
	if e.Msg() != "install a wallet" || e.Unwrap() != nil {
		t.Fatalf("unexpected error: %+v", e)
	}
	if StatusCode(errors.New("plain")) != http.StatusInternalServerError {
		t.Fatal("plain errors should map to 500")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("nil should be KindUnknown")
	}
	if KindUserRejected.String() != "user_rejected" || Kind(99).String() != "unknown" {
		t.Fatal("unexpected kind strings")
	}
}
