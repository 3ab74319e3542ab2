// Package autherr decides whether a failure is an authentication problem
// and, when it is, invalidates the token cache so the next request performs
// a full re-acquisition.
//
// For failures that originate inside the broker, the structured error kind
// is the source of truth. The keyword search over message text exists only
// for errors originating outside the broker, such as the body of a 401
// response from the Azure DevOps API.
package autherr

import (
	"context"
	"errors"
	"strings"

	"azbroker/internal/protocol"
	"azbroker/pkg/logging"
)

const classifierSubsystem = "AuthClassifier"

// CacheClearer is the local token cache surface the classifier needs.
type CacheClearer interface {
	ClearCache() error
}

// RelayNotifier is the relay surface the classifier needs.
type RelayNotifier interface {
	ClearTokenCache(ctx context.Context) error
}

// authPatterns are the case-insensitive markers of credential and
// authorization failures. A 404 or a network timeout matches none of them;
// clearing the cache for those would force needless re-acquisition.
var authPatterns = []string{
	"401",
	"unauthorized",
	"invalid_token",
	"token expired",
	"token has expired",
	"access token expired",
	"authentication failed",
	"authentication required",
	"login required",
	"az login",
	"aadsts",
}

// IsAuthMessage reports whether the message text indicates an
// authentication failure, via case-insensitive substring matching.
func IsAuthMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range authPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err is an authentication failure. A broker
// error's kind is authoritative; for everything else the message text is
// searched as a fallback.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var brokerErr *protocol.BrokerError
	if errors.As(err, &brokerErr) {
		return brokerErr.Kind.IsAuth()
	}
	return IsAuthMessage(err.Error())
}

// Classifier invalidates token state when a failure is classified as an
// authentication error.
type Classifier struct {
	cache CacheClearer
	relay RelayNotifier
}

// New creates a classifier bound to the given cache and relay.
func New(cache CacheClearer, relay RelayNotifier) *Classifier {
	return &Classifier{cache: cache, relay: relay}
}

// HandleAuthError classifies the message and, on a match, clears the local
// cache and best-effort notifies the relay. It returns whether the message
// was classified as an auth error. Non-auth errors leave the cache
// untouched.
func (c *Classifier) HandleAuthError(ctx context.Context, message string) bool {
	if !IsAuthMessage(message) {
		return false
	}
	c.invalidate(ctx)
	return true
}

// HandleError is the kind-aware variant for errors that may carry a broker
// error kind.
func (c *Classifier) HandleError(ctx context.Context, err error) bool {
	if !IsAuthError(err) {
		return false
	}
	c.invalidate(ctx)
	return true
}

func (c *Classifier) invalidate(ctx context.Context) {
	logging.Info(classifierSubsystem, "Auth failure detected, clearing token cache")

	if err := c.cache.ClearCache(); err != nil {
		logging.Warn(classifierSubsystem, "Failed to clear local cache: %v", err)
	}
	if c.relay != nil {
		if err := c.relay.ClearTokenCache(ctx); err != nil {
			logging.Warn(classifierSubsystem, "Relay clear notification failed: %v", err)
		}
	}
}
