package tokencache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"azbroker/internal/protocol"
)

// fakeRelay is a scripted Requester.
type fakeRelay struct {
	resp  *protocol.TokenResponse
	err   error
	delay time.Duration

	getCalls   atomic.Int64
	clearCalls atomic.Int64
	clearErr   error
}

func (f *fakeRelay) GetToken(ctx context.Context) (*protocol.TokenResponse, error) {
	f.getCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

func (f *fakeRelay) ClearTokenCache(ctx context.Context) error {
	f.clearCalls.Add(1)
	return f.clearErr
}

func newTestCache(t *testing.T, relay Requester) *Cache {
	t.Helper()
	c, err := New(Config{
		SlotPath: filepath.Join(t.TempDir(), "token.json"),
		Relay:    relay,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIsValidExpiryBuffer(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresOn time.Time
		want      bool
	}{
		{"an hour out", now.Add(time.Hour), true},
		{"just outside the buffer", now.Add(61 * time.Second), true},
		{"exactly at the buffer", now.Add(60 * time.Second), false},
		{"inside the buffer", now.Add(31 * time.Second), false},
		{"already expired", now.Add(-time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t, &fakeRelay{})
			c.now = func() time.Time { return now }

			if err := c.CacheToken("tok", tt.expiresOn); err != nil {
				t.Fatalf("CacheToken failed: %v", err)
			}
			if got := c.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v (expiry %s)", got, tt.want, tt.expiresOn)
			}
		})
	}
}

func TestGetCachedTokenMalformedSlot(t *testing.T) {
	slotPath := filepath.Join(t.TempDir(), "token.json")
	c, err := New(Config{SlotPath: slotPath, Relay: &fakeRelay{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	malformed := []string{
		"not json at all",
		`{"accessToken": "tok", "expiresOn"`,
		`{"accessToken": "", "expiresOn": "2099-01-01T00:00:00Z"}`,
		`{}`,
	}

	for _, contents := range malformed {
		if err := os.WriteFile(slotPath, []byte(contents), 0600); err != nil {
			t.Fatalf("Failed to seed slot: %v", err)
		}
		c.invalidateMemory()

		if entry := c.GetCachedToken(); entry != nil {
			t.Errorf("Expected absent entry for slot %q, got %+v", contents, entry)
		}
	}
}

func TestGetCachedTokenAbsentSlot(t *testing.T) {
	c := newTestCache(t, &fakeRelay{})
	if entry := c.GetCachedToken(); entry != nil {
		t.Errorf("Expected nil for absent slot, got %+v", entry)
	}
	if c.IsValid() {
		t.Error("Absent slot must be invalid")
	}
	if token := c.GetValidToken(); token != "" {
		t.Errorf("Expected empty token for absent slot, got %q", token)
	}
}

func TestGetTokenFillsCacheThenHits(t *testing.T) {
	relay := &fakeRelay{
		resp: &protocol.TokenResponse{AccessToken: "abc", ExpiresOn: "2099-01-01T00:00:00Z"},
	}
	c := newTestCache(t, relay)

	token, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if token != "abc" {
		t.Errorf("Expected token %q, got %q", "abc", token)
	}

	entry := c.GetCachedToken()
	if entry == nil || entry.AccessToken != "abc" {
		t.Fatalf("Expected cache filled with %q, got %+v", "abc", entry)
	}
	if entry.ExpiresOn.Year() != 2099 {
		t.Errorf("Expected expiry year 2099, got %v", entry.ExpiresOn)
	}

	// The immediate second call must be served from the cache.
	token, err = c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("Second GetToken failed: %v", err)
	}
	if token != "abc" {
		t.Errorf("Expected cached token %q, got %q", "abc", token)
	}
	if relay.getCalls.Load() != 1 {
		t.Errorf("Expected exactly one relay round trip, got %d", relay.getCalls.Load())
	}
}

func TestGetTokenRefetchesInsideBuffer(t *testing.T) {
	relay := &fakeRelay{
		resp: &protocol.TokenResponse{AccessToken: "fresh", ExpiresOn: "2099-01-01T00:00:00Z"},
	}
	c := newTestCache(t, relay)

	// An entry expiring 31s out is inside the 60s buffer and must not be
	// served.
	if err := c.CacheToken("old", time.Now().Add(31*time.Second)); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}

	token, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if token != "fresh" {
		t.Errorf("Expected fresh token, got %q", token)
	}
	if relay.getCalls.Load() != 1 {
		t.Errorf("Expected one relay round trip, got %d", relay.getCalls.Load())
	}
}

func TestGetTokenRelayError(t *testing.T) {
	relay := &fakeRelay{
		err: &protocol.BrokerError{Kind: protocol.KindNotLoggedIn, Message: "Not logged in to Azure CLI. Run: az login"},
	}
	c := newTestCache(t, relay)

	_, err := c.GetToken(context.Background())
	var brokerErr *protocol.BrokerError
	if !errors.As(err, &brokerErr) {
		t.Fatalf("Expected *protocol.BrokerError, got %T: %v", err, err)
	}
	if brokerErr.Kind != protocol.KindNotLoggedIn {
		t.Errorf("Expected kind %q, got %q", protocol.KindNotLoggedIn, brokerErr.Kind)
	}
	if c.GetCachedToken() != nil {
		t.Error("Failed acquisition must not populate the cache")
	}
}

func TestGetTokenEmptyRelayResponse(t *testing.T) {
	relay := &fakeRelay{resp: &protocol.TokenResponse{}}
	c := newTestCache(t, relay)

	_, err := c.GetToken(context.Background())
	if err == nil {
		t.Fatal("Expected 'no token obtained' error, got nil")
	}
}

func TestGetTokenUnparseableExpiry(t *testing.T) {
	relay := &fakeRelay{resp: &protocol.TokenResponse{AccessToken: "abc", ExpiresOn: "eventually"}}
	c := newTestCache(t, relay)

	_, err := c.GetToken(context.Background())
	var brokerErr *protocol.BrokerError
	if !errors.As(err, &brokerErr) {
		t.Fatalf("Expected *protocol.BrokerError, got %T: %v", err, err)
	}
	if brokerErr.Kind != protocol.KindMalformedOutput {
		t.Errorf("Expected kind %q, got %q", protocol.KindMalformedOutput, brokerErr.Kind)
	}
}

func TestRefreshTokenClearsAndReacquires(t *testing.T) {
	relay := &fakeRelay{
		resp: &protocol.TokenResponse{AccessToken: "new", ExpiresOn: "2099-01-01T00:00:00Z"},
	}
	c := newTestCache(t, relay)

	// Seed a still-valid entry; refresh must discard it anyway.
	if err := c.CacheToken("stale", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}

	token, err := c.RefreshToken(context.Background())
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if token != "new" {
		t.Errorf("Expected refreshed token %q, got %q", "new", token)
	}
	if relay.clearCalls.Load() != 1 {
		t.Errorf("Expected one relay clear notification, got %d", relay.clearCalls.Load())
	}
	if relay.getCalls.Load() != 1 {
		t.Errorf("Expected one acquisition, got %d", relay.getCalls.Load())
	}
}

func TestRefreshTokenToleratesClearFailure(t *testing.T) {
	relay := &fakeRelay{
		resp:     &protocol.TokenResponse{AccessToken: "new", ExpiresOn: "2099-01-01T00:00:00Z"},
		clearErr: fmt.Errorf("relay unreachable"),
	}
	c := newTestCache(t, relay)

	token, err := c.RefreshToken(context.Background())
	if err != nil {
		t.Fatalf("RefreshToken must not fail when the clear notification fails: %v", err)
	}
	if token != "new" {
		t.Errorf("Expected token %q, got %q", "new", token)
	}
}

func TestClearCacheIdempotent(t *testing.T) {
	c := newTestCache(t, &fakeRelay{})

	if err := c.CacheToken("tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}
	if err := c.ClearCache(); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if err := c.ClearCache(); err != nil {
		t.Fatalf("Second ClearCache failed: %v", err)
	}
	if c.GetCachedToken() != nil {
		t.Error("Expected empty cache after clear")
	}
}

func TestConcurrentGetTokenCoalesces(t *testing.T) {
	relay := &fakeRelay{
		resp:  &protocol.TokenResponse{AccessToken: "abc", ExpiresOn: "2099-01-01T00:00:00Z"},
		delay: 100 * time.Millisecond,
	}
	c := newTestCache(t, relay)

	const concurrency = 8
	var wg sync.WaitGroup
	tokens := make([]string, concurrency)
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.GetToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		if errs[i] != nil {
			t.Errorf("Caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "abc" {
			t.Errorf("Caller %d got %q, want %q", i, tokens[i], "abc")
		}
	}
	if calls := relay.getCalls.Load(); calls != 1 {
		t.Errorf("Expected overlapping calls to coalesce into one round trip, got %d", calls)
	}
}

func TestCacheTokenOverwritesSlot(t *testing.T) {
	c := newTestCache(t, &fakeRelay{})

	if err := c.CacheToken("first", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}
	if err := c.CacheToken("second", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}

	entry := c.GetCachedToken()
	if entry == nil || entry.AccessToken != "second" {
		t.Errorf("Expected slot overwritten with %q, got %+v", "second", entry)
	}
}

func TestEntryToOAuth2Token(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	entry := &Entry{AccessToken: "tok", ExpiresOn: expiry}

	token := entry.ToOAuth2Token()
	if token.AccessToken != "tok" || token.TokenType != "Bearer" || !token.Expiry.Equal(expiry) {
		t.Errorf("Unexpected oauth2 token: %+v", token)
	}
}

func TestTokenSourceServesCachedToken(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestCache(t, relay)

	expiry := time.Now().Add(time.Hour)
	if err := c.CacheToken("cached-tok", expiry); err != nil {
		t.Fatalf("CacheToken failed: %v", err)
	}

	token, err := c.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token.AccessToken != "cached-tok" || token.TokenType != "Bearer" {
		t.Errorf("Unexpected token: %+v", token)
	}
	if !token.Expiry.Equal(expiry) {
		t.Errorf("Expected expiry %s, got %s", expiry, token.Expiry)
	}
	if got := relay.getCalls.Load(); got != 0 {
		t.Errorf("Expected no relay calls for a valid cached token, got %d", got)
	}
}

func TestTokenSourceAcquiresOnColdCache(t *testing.T) {
	expiresOn := time.Now().Add(time.Hour).Format(time.RFC3339)
	relay := &fakeRelay{
		resp: &protocol.TokenResponse{AccessToken: "fresh-tok", ExpiresOn: expiresOn},
	}
	c := newTestCache(t, relay)

	token, err := c.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token.AccessToken != "fresh-tok" {
		t.Errorf("Expected acquired token, got %+v", token)
	}
	if got := relay.getCalls.Load(); got != 1 {
		t.Errorf("Expected 1 relay call, got %d", got)
	}
}

func TestTokenSourcePropagatesAcquisitionError(t *testing.T) {
	relay := &fakeRelay{err: errors.New("relay down")}
	c := newTestCache(t, relay)

	if _, err := c.TokenSource(context.Background()).Token(); err == nil {
		t.Fatal("Expected error when acquisition fails")
	}
}
