package autherr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"azbroker/internal/protocol"
)

type fakeCache struct {
	cleared int
}

func (f *fakeCache) ClearCache() error {
	f.cleared++
	return nil
}

type fakeRelay struct {
	notified int
	err      error
}

func (f *fakeRelay) ClearTokenCache(ctx context.Context) error {
	f.notified++
	return f.err
}

func TestIsAuthMessage(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Authentication failed. Try running: az login", true},
		{"HTTP 401 Unauthorized", true},
		{"The access token expired.", true},
		{"AADSTS700082: The refresh token has expired due to inactivity.", true},
		{"TF400813: login required to access this resource", true},
		{"Project or repository not found.", false},
		{"404 Not Found", false},
		{"connection timed out", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAuthMessage(tt.message); got != tt.want {
			t.Errorf("IsAuthMessage(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestIsAuthErrorKindIsAuthoritative(t *testing.T) {
	// A broker error classifies by kind alone, whatever its text says.
	notLoggedIn := &protocol.BrokerError{
		Kind:    protocol.KindNotLoggedIn,
		Message: "the message text mentions nothing relevant",
	}
	if !IsAuthError(notLoggedIn) {
		t.Error("not-logged-in kind must classify as auth error")
	}

	// A timeout mentioning "401" in its details context must not classify:
	// the kind says it is a transport problem.
	timeout := &protocol.BrokerError{
		Kind:    protocol.KindTimeout,
		Message: "probe timed out waiting for 401 check",
	}
	if IsAuthError(timeout) {
		t.Error("timeout kind must not classify as auth error")
	}

	// Plain errors fall back to keyword search.
	if !IsAuthError(errors.New("401 unauthorized")) {
		t.Error("plain 401 error must classify via keyword fallback")
	}
	if IsAuthError(errors.New("dial tcp: connection refused")) {
		t.Error("network error must not classify")
	}
	if IsAuthError(nil) {
		t.Error("nil must not classify")
	}
}

func TestHandleAuthErrorClearsOnMatch(t *testing.T) {
	cache := &fakeCache{}
	relay := &fakeRelay{}
	c := New(cache, relay)

	if !c.HandleAuthError(context.Background(), "Authentication failed. Try running: az login") {
		t.Fatal("Expected auth classification")
	}
	if cache.cleared != 1 {
		t.Errorf("Expected one cache clear, got %d", cache.cleared)
	}
	if relay.notified != 1 {
		t.Errorf("Expected one relay notification, got %d", relay.notified)
	}
}

func TestHandleAuthErrorLeavesCacheForNonAuth(t *testing.T) {
	cache := &fakeCache{}
	relay := &fakeRelay{}
	c := New(cache, relay)

	if c.HandleAuthError(context.Background(), "Project or repository not found.") {
		t.Fatal("Expected non-auth classification")
	}
	if cache.cleared != 0 {
		t.Errorf("Non-auth error must not clear the cache, got %d clears", cache.cleared)
	}
	if relay.notified != 0 {
		t.Errorf("Non-auth error must not notify the relay, got %d", relay.notified)
	}
}

func TestHandleAuthErrorRelayFailureIsBestEffort(t *testing.T) {
	cache := &fakeCache{}
	relay := &fakeRelay{err: fmt.Errorf("relay unreachable")}
	c := New(cache, relay)

	if !c.HandleAuthError(context.Background(), "401 Unauthorized") {
		t.Fatal("Expected auth classification despite relay failure")
	}
	if cache.cleared != 1 {
		t.Errorf("Expected local clear despite relay failure, got %d", cache.cleared)
	}
}

func TestHandleErrorUsesKind(t *testing.T) {
	cache := &fakeCache{}
	c := New(cache, nil)

	handled := c.HandleError(context.Background(), &protocol.BrokerError{
		Kind:    protocol.KindNotLoggedIn,
		Message: "Not logged in to Azure CLI. Run: az login",
	})
	if !handled {
		t.Fatal("Expected auth classification by kind")
	}
	if cache.cleared != 1 {
		t.Errorf("Expected cache clear, got %d", cache.cleared)
	}

	if c.HandleError(context.Background(), &protocol.BrokerError{Kind: protocol.KindToolNotFound, Message: "missing"}) {
		t.Error("tool-not-found must not classify as auth error")
	}
}
