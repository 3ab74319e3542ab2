// Package tokencache provides the session-scoped, expiry-aware client-side
// token cache. Consumers call GetToken; the cache answers from its single
// storage slot when the entry is still comfortably inside its lifetime, and
// otherwise performs exactly one relay round trip.
package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"azbroker/internal/protocol"
	"azbroker/pkg/logging"
)

const cacheSubsystem = "TokenCache"

// ExpiryBuffer is the safety margin subtracted from a token's stated expiry
// when judging validity. It avoids the race where a token expires mid-use:
// an entry inside the buffer is treated as already expired.
const ExpiryBuffer = 60 * time.Second

// Requester is the relay surface the cache depends on.
type Requester interface {
	// GetToken performs one token acquisition round trip.
	GetToken(ctx context.Context) (*protocol.TokenResponse, error)
	// ClearTokenCache asks the relay to forget server-side state.
	ClearTokenCache(ctx context.Context) error
}

// Cache is the token cache service. Create one instance at session start
// and Close it at session end; it is not a package-level singleton.
//
// Overlapping GetToken calls are coalesced: all callers that arrive while
// an acquisition is in flight share its result rather than each triggering
// an independent relay round trip.
type Cache struct {
	slot  *Slot
	relay Requester

	// now is a variable to allow overriding the clock in tests.
	now func() time.Time

	// mu guards the in-memory copy of the slot.
	mu     sync.RWMutex
	memory *Entry

	// group coalesces concurrent acquisitions.
	group singleflight.Group

	// watcher invalidates the in-memory copy when another process touches
	// the slot file. May be nil when watching is disabled.
	watcher *slotWatcher
}

// Config configures a Cache.
type Config struct {
	// SlotPath is the cache slot file.
	SlotPath string

	// Relay performs acquisitions and clear notifications.
	Relay Requester

	// WatchSlot enables invalidation of the in-memory copy when the slot
	// file changes on disk (for example, another process cleared it).
	WatchSlot bool
}

// New creates a token cache service.
func New(cfg Config) (*Cache, error) {
	if cfg.SlotPath == "" {
		return nil, fmt.Errorf("slot path is required")
	}
	if cfg.Relay == nil {
		return nil, fmt.Errorf("relay requester is required")
	}

	c := &Cache{
		slot:  NewSlot(cfg.SlotPath),
		relay: cfg.Relay,
		now:   time.Now,
	}

	if cfg.WatchSlot {
		watcher, err := newSlotWatcher(cfg.SlotPath, c.invalidateMemory)
		if err != nil {
			logging.Warn(cacheSubsystem, "Slot watching unavailable: %v", err)
		} else {
			c.watcher = watcher
		}
	}

	return c, nil
}

// Watching reports whether a slot watcher is active.
func (c *Cache) Watching() bool {
	return c.watcher != nil
}

// Close releases the slot watcher, if any.
func (c *Cache) Close() error {
	if c.watcher != nil {
		return c.watcher.stop()
	}
	return nil
}

// GetCachedToken returns the stored entry regardless of validity, or nil
// when the slot is absent or malformed. Pure read; never fails.
func (c *Cache) GetCachedToken() *Entry {
	c.mu.RLock()
	entry := c.memory
	c.mu.RUnlock()
	if entry != nil {
		return entry
	}

	entry = c.slot.Read()
	if entry != nil {
		c.mu.Lock()
		c.memory = entry
		c.mu.Unlock()
	}
	return entry
}

// IsValid reports whether the cached entry exists and its expiry is more
// than ExpiryBuffer in the future.
func (c *Cache) IsValid() bool {
	entry := c.GetCachedToken()
	if entry == nil {
		return false
	}
	return c.now().Add(ExpiryBuffer).Before(entry.ExpiresOn)
}

// GetValidToken returns the cached token only if IsValid; otherwise "".
func (c *Cache) GetValidToken() string {
	if !c.IsValid() {
		return ""
	}
	return c.GetCachedToken().AccessToken
}

// CacheToken unconditionally overwrites the single cache slot.
func (c *Cache) CacheToken(accessToken string, expiresOn time.Time) error {
	entry := &Entry{AccessToken: accessToken, ExpiresOn: expiresOn}
	if err := c.slot.Write(entry); err != nil {
		return err
	}

	c.mu.Lock()
	c.memory = entry
	c.mu.Unlock()

	logging.Debug(cacheSubsystem, "Cached token (expires: %s)", expiresOn.Format(time.RFC3339))
	return nil
}

// ClearCache removes the slot. Idempotent.
func (c *Cache) ClearCache() error {
	c.invalidateMemory()
	if err := c.slot.Remove(); err != nil {
		return fmt.Errorf("failed to clear cache slot: %w", err)
	}
	logging.Debug(cacheSubsystem, "Cache cleared")
	return nil
}

// GetToken is the composite operation consumers call: the cached token on
// the fast path when valid, otherwise exactly one relay acquisition whose
// result is cached. It never returns an empty token silently.
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	if token := c.GetValidToken(); token != "" {
		return token, nil
	}
	return c.acquire(ctx)
}

// RefreshToken discards the cached token and performs a fresh acquisition.
// Use it when the cached token is known stale even though its expiry has
// not passed (for example, the CLI session was revoked out-of-band). The
// relay clear notification is best-effort and never blocks the refresh.
func (c *Cache) RefreshToken(ctx context.Context) (string, error) {
	if err := c.ClearCache(); err != nil {
		logging.Warn(cacheSubsystem, "Failed to clear cache before refresh: %v", err)
	}
	if err := c.relay.ClearTokenCache(ctx); err != nil {
		logging.Warn(cacheSubsystem, "Relay cache-clear notification failed: %v", err)
	}
	return c.acquire(ctx)
}

// acquire performs one coalesced relay round trip and caches the result.
func (c *Cache) acquire(ctx context.Context) (string, error) {
	token, err, _ := c.group.Do("token", func() (interface{}, error) {
		resp, err := c.relay.GetToken(ctx)
		if err != nil {
			return "", err
		}
		if resp.AccessToken == "" {
			return "", fmt.Errorf("no token obtained from relay")
		}

		expiry, err := resp.Expiry()
		if err != nil {
			return "", &protocol.BrokerError{
				Kind:    protocol.KindMalformedOutput,
				Message: "Token response carried an unparseable expiry.",
				Details: err.Error(),
			}
		}

		if cacheErr := c.CacheToken(resp.AccessToken, expiry); cacheErr != nil {
			// The token is still usable this once even if persisting failed.
			logging.Warn(cacheSubsystem, "Failed to persist token: %v", cacheErr)
		}
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// TokenSource returns an oauth2.TokenSource backed by this cache. Each
// Token call goes through GetToken, so callers get the cached token on the
// fast path and one coalesced acquisition otherwise.
func (c *Cache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &cacheTokenSource{ctx: ctx, cache: c}
}

type cacheTokenSource struct {
	ctx   context.Context
	cache *Cache
}

// Token implements oauth2.TokenSource.
func (s *cacheTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.cache.GetToken(s.ctx)
	if err != nil {
		return nil, err
	}
	if entry := s.cache.GetCachedToken(); entry != nil && entry.AccessToken == token {
		return entry.ToOAuth2Token(), nil
	}
	// Acquisition succeeded but the slot could not be persisted; the token
	// is still usable, just without a recorded expiry.
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// invalidateMemory drops the in-memory copy so the next read goes back to
// the slot file.
func (c *Cache) invalidateMemory() {
	c.mu.Lock()
	c.memory = nil
	c.mu.Unlock()
}
