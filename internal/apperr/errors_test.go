package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusNotFound, KindNotFound},
		{http.StatusUnauthorized, KindSessionExpired},
		{http.StatusForbidden, KindSessionExpired},
		{http.StatusBadRequest, KindNetworkOrServer},
		{http.StatusTooManyRequests, KindNetworkOrServer},
		{http.StatusInternalServerError, KindNetworkOrServer},
		{http.StatusGatewayTimeout, KindNetworkOrServer},
		{http.StatusOK, KindUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.status); got != c.want {
			t.Errorf("Classify(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("fetch boleto: %w", FromStatus(http.StatusNotFound, "no such boleto"))
	if !errors.Is(err, NotFound) {
		t.Fatalf("expected errors.Is(err, NotFound) for %v", err)
	}
	if errors.Is(err, SessionExpired) {
		t.Fatalf("404 must not match SessionExpired")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
}

func TestAsWrapsForeignErrors(t *testing.T) {
	cause := errors.New("connection refused")
	ae := As(cause)
	if ae.Kind != KindNetworkOrServer {
		t.Fatalf("foreign error kind = %s", ae.Kind)
	}
	if !errors.Is(ae, cause) {
		t.Fatal("wrapped cause lost")
	}
	if As(nil) != nil {
		t.Fatal("As(nil) must be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(New(KindSessionExpired, "")); got != http.StatusUnauthorized {
		t.Errorf("session expired -> %d", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("unknown -> %d", got)
	}
}

func TestKindPolicies(t *testing.T) {
	if !KindSessionExpired.RequiresLogin() || !KindUnauthenticated.RequiresLogin() {
		t.Error("auth kinds must require login")
	}
	if KindNotFound.Retryable() {
		t.Error("not found must not offer retry")
	}
	if !KindNetworkOrServer.Retryable() || !KindInvalidContentType.Retryable() {
		t.Error("network and content type failures offer retry")
	}
}
