package protocol

import (
	"fmt"
	"time"
)

// ActionGetToken is the single action the protocol host understands.
const ActionGetToken = "getToken"

// Relay message types exchanged between consumers and the relay daemon.
const (
	// TypeGetToken requests a fresh token acquisition through the host.
	TypeGetToken = "GET_TOKEN"
	// TypeClearTokenCache notifies the relay that cached state should be
	// forgotten. The relay acknowledges immediately; clearing is a
	// consumer-side cache concern.
	TypeClearTokenCache = "CLEAR_TOKEN_CACHE"
)

// Kind categorizes a broker failure. It is the source of truth for error
// classification; the human-readable message is presentation only.
type Kind string

const (
	// KindToolNotFound indicates the Azure CLI could not be located.
	KindToolNotFound Kind = "tool-not-found"
	// KindNotLoggedIn indicates the Azure CLI has no active session.
	KindNotLoggedIn Kind = "not-logged-in"
	// KindTimeout indicates a subprocess invocation exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindMalformedOutput indicates the Azure CLI produced output that could
	// not be parsed, or a success exit with no token in it.
	KindMalformedOutput Kind = "malformed-output"
	// KindUnknownAction indicates a request with an unrecognized action.
	KindUnknownAction Kind = "unknown-action"
	// KindTransportUnavailable indicates the host process or its channel
	// failed (failed to start, exited without a response, closed early).
	KindTransportUnavailable Kind = "transport-unavailable"
	// KindUnclassified covers failures that fit no other category.
	KindUnclassified Kind = "unclassified"
)

// IsAuth reports whether the kind represents an authentication failure,
// as opposed to a transport or data problem.
func (k Kind) IsAuth() bool {
	return k == KindNotLoggedIn
}

// HostRequest is the single framed request body read by the protocol host.
type HostRequest struct {
	Action string `json:"action"`
}

// RelayRequest is the framed request body a consumer sends the relay.
type RelayRequest struct {
	Type string `json:"type"`
}

// TokenResponse is the shared success/error response shape used on both the
// host and relay boundaries. Exactly one of AccessToken or Error is set.
type TokenResponse struct {
	// AccessToken is the bearer token. Never logged in full.
	AccessToken string `json:"accessToken,omitempty"`

	// ExpiresOn is the token's absolute expiry in ISO-8601 / RFC 3339.
	ExpiresOn string `json:"expiresOn,omitempty"`

	// Error is the short, actionable failure message.
	Error string `json:"error,omitempty"`

	// Kind categorizes the failure for programmatic handling.
	Kind Kind `json:"kind,omitempty"`

	// Details carries raw subprocess output for diagnosis. Secondary only;
	// never presented as the primary message.
	Details string `json:"details,omitempty"`

	// Success acknowledges a CLEAR_TOKEN_CACHE request.
	Success bool `json:"success,omitempty"`
}

// IsError reports whether the response carries a failure.
func (r *TokenResponse) IsError() bool {
	return r.Error != ""
}

// Expiry parses the ExpiresOn timestamp. RFC 3339 is tried first, then the
// space-separated local form the Azure CLI emits ("2026-08-30 17:04:05").
func (r *TokenResponse) Expiry() (time.Time, error) {
	if r.ExpiresOn == "" {
		return time.Time{}, fmt.Errorf("response has no expiry")
	}
	if t, err := time.Parse(time.RFC3339, r.ExpiresOn); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", r.ExpiresOn, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable expiry %q: %w", r.ExpiresOn, err)
	}
	return t, nil
}

// Err converts an error response into a *BrokerError. Returns nil for
// success responses.
func (r *TokenResponse) Err() error {
	if !r.IsError() {
		return nil
	}
	kind := r.Kind
	if kind == "" {
		kind = KindUnclassified
	}
	return &BrokerError{Kind: kind, Message: r.Error, Details: r.Details}
}

// BrokerError is a classified broker failure. The Kind enumeration is
// authoritative; Message is for display and Details carries raw subprocess
// output for diagnosis.
type BrokerError struct {
	Kind    Kind
	Message string
	Details string
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	return e.Message
}

// ErrorResponse builds an error TokenResponse from a kind, message and
// optional details.
func ErrorResponse(kind Kind, message, details string) *TokenResponse {
	return &TokenResponse{Error: message, Kind: kind, Details: details}
}
