// Package host implements the single-shot protocol host: a bridge between
// the length-prefixed framing protocol on standard input/output and the
// Azure CLI. The host reads exactly one framed request, services it, writes
// exactly one framed response, and exits. Retry policy belongs to callers.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"

	"azbroker/internal/azcli"
	"azbroker/internal/protocol"
	"azbroker/pkg/logging"
)

const hostSubsystem = "Host"

// TokenSource abstracts the Azure CLI invoker so tests can exercise the
// host without spawning subprocesses.
type TokenSource interface {
	// CheckLoggedIn probes for an active CLI session.
	CheckLoggedIn(ctx context.Context) error
	// FetchToken acquires a bearer token.
	FetchToken(ctx context.Context) (*protocol.TokenResponse, error)
}

// Host services one framed request from in and writes one framed response
// to out.
type Host struct {
	in  io.Reader
	out io.Writer

	// locate resolves the Azure CLI path. Defaults to azcli.Locate.
	locate func() (string, error)

	// newSource builds a token source for a resolved CLI path.
	newSource func(path string) TokenSource
}

// Option customizes a Host.
type Option func(*Host)

// WithLocator overrides CLI path resolution.
func WithLocator(locate func() (string, error)) Option {
	return func(h *Host) { h.locate = locate }
}

// WithTokenSource overrides token source construction.
func WithTokenSource(newSource func(path string) TokenSource) Option {
	return func(h *Host) { h.newSource = newSource }
}

// New creates a protocol host reading from in and writing to out.
func New(in io.Reader, out io.Writer, opts ...Option) *Host {
	h := &Host{
		in:     in,
		out:    out,
		locate: azcli.Locate,
		newSource: func(path string) TokenSource {
			return azcli.New(azcli.Config{Path: path})
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run reads the single request, services it, and writes the single
// response. The returned error covers only response delivery failures;
// request-level failures are reported to the peer as error responses.
func (h *Host) Run(ctx context.Context) error {
	resp := h.serve(ctx)
	if err := protocol.WriteFrame(h.out, resp); err != nil {
		return fmt.Errorf("failed to write response frame: %w", err)
	}
	return nil
}

// serve produces the single response for the single request.
func (h *Host) serve(ctx context.Context) *protocol.TokenResponse {
	var req protocol.HostRequest
	if err := protocol.ReadFrame(h.in, &req); err != nil {
		logging.Warn(hostSubsystem, "Failed to read request frame: %v", err)
		return protocol.ErrorResponse(protocol.KindUnclassified,
			"Malformed request: could not read a complete frame from stdin.", err.Error())
	}

	if req.Action != protocol.ActionGetToken {
		logging.Warn(hostSubsystem, "Rejected unknown action %q", req.Action)
		return protocol.ErrorResponse(protocol.KindUnknownAction,
			fmt.Sprintf("Unknown action: %s", req.Action), "")
	}

	path, err := h.locate()
	if err != nil {
		logging.Info(hostSubsystem, "Azure CLI not found")
		return protocol.ErrorResponse(protocol.KindToolNotFound, azcli.InstallHint, "")
	}

	source := h.newSource(path)

	if err := source.CheckLoggedIn(ctx); err != nil {
		return responseFromError(err)
	}

	resp, err := source.FetchToken(ctx)
	if err != nil {
		return responseFromError(err)
	}

	logging.Info(hostSubsystem, "Token acquired (expires: %s)", resp.ExpiresOn)
	return resp
}

// responseFromError converts a classified invoker error into the wire
// response shape, preserving kind and raw details.
func responseFromError(err error) *protocol.TokenResponse {
	var brokerErr *protocol.BrokerError
	if errors.As(err, &brokerErr) {
		logging.Info(hostSubsystem, "Request failed: %s (%s)", brokerErr.Message, brokerErr.Kind)
		return protocol.ErrorResponse(brokerErr.Kind, brokerErr.Message, brokerErr.Details)
	}
	logging.Warn(hostSubsystem, "Request failed with unclassified error: %v", err)
	return protocol.ErrorResponse(protocol.KindUnclassified, "Token acquisition failed.", err.Error())
}
