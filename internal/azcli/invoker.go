package azcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"azbroker/internal/protocol"
	"azbroker/pkg/logging"
)

// DevOpsResourceID is the well-known Azure AD resource identifier for the
// Azure DevOps REST API, passed to `az account get-access-token`.
const DevOpsResourceID = "499b84ac-1321-427f-aa17-267ca6975798"

// Subprocess invocation timeouts. The login probe is a fast local check;
// the token fetch may round-trip to Azure AD.
const (
	// DefaultProbeTimeout bounds the `az account show` login probe.
	DefaultProbeTimeout = 10 * time.Second
	// DefaultFetchTimeout bounds the `az account get-access-token` call.
	DefaultFetchTimeout = 30 * time.Second
)

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// CLI invokes the Azure CLI for login probing and token acquisition.
// It holds the resolved executable path; create one per host invocation.
type CLI struct {
	path         string
	resourceID   string
	probeTimeout time.Duration
	fetchTimeout time.Duration
}

// Config configures a CLI invoker.
type Config struct {
	// Path is the resolved Azure CLI executable path (from Locate).
	Path string

	// ResourceID is the Azure AD resource to request a token for.
	// Defaults to DevOpsResourceID.
	ResourceID string

	// ProbeTimeout bounds the login probe. Defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// FetchTimeout bounds the token fetch. Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// New creates a CLI invoker for the executable at cfg.Path.
func New(cfg Config) *CLI {
	if cfg.ResourceID == "" {
		cfg.ResourceID = DevOpsResourceID
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &CLI{
		path:         cfg.Path,
		resourceID:   cfg.ResourceID,
		probeTimeout: cfg.ProbeTimeout,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// accessTokenOutput is the JSON shape emitted by `az account get-access-token`.
type accessTokenOutput struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
	TokenType   string `json:"tokenType"`
}

// CheckLoggedIn probes whether the Azure CLI has an active session by
// running `az account show`. It distinguishes "not logged in" from probe
// timeouts and unclassified failures.
func (c *CLI) CheckLoggedIn(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	cmd := execCommandContext(probeCtx, c.path, "account", "show", "--output", "json")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		logging.Debug(locatorSubsystem, "Login probe succeeded")
		return nil
	}

	if probeCtx.Err() == context.DeadlineExceeded {
		return &protocol.BrokerError{
			Kind:    protocol.KindTimeout,
			Message: fmt.Sprintf("Azure CLI login probe timed out after %s.", c.probeTimeout),
			Details: stderr.String(),
		}
	}

	if isNotLoggedInOutput(stderr.String()) {
		return &protocol.BrokerError{
			Kind:    protocol.KindNotLoggedIn,
			Message: "Not logged in to Azure CLI. Run: az login",
			Details: stderr.String(),
		}
	}

	return &protocol.BrokerError{
		Kind:    protocol.KindUnclassified,
		Message: "Azure CLI login probe failed.",
		Details: combineOutput(stderr.String(), err),
	}
}

// FetchToken acquires a bearer token for the configured resource via
// `az account get-access-token`. An empty token in otherwise well-formed
// output is an error even when the subprocess exits zero.
func (c *CLI) FetchToken(ctx context.Context) (*protocol.TokenResponse, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	cmd := execCommandContext(fetchCtx, c.path,
		"account", "get-access-token",
		"--resource", c.resourceID,
		"--output", "json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if fetchCtx.Err() == context.DeadlineExceeded {
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindTimeout,
			Message: fmt.Sprintf("Token acquisition timed out after %s.", c.fetchTimeout),
			Details: stderr.String(),
		}
	}
	if err != nil {
		if isNotLoggedInOutput(stderr.String()) {
			return nil, &protocol.BrokerError{
				Kind:    protocol.KindNotLoggedIn,
				Message: "Not logged in to Azure CLI. Run: az login",
				Details: stderr.String(),
			}
		}
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindUnclassified,
			Message: "Azure CLI token acquisition failed.",
			Details: combineOutput(stderr.String(), err),
		}
	}

	var out accessTokenOutput
	if jsonErr := json.Unmarshal(stdout.Bytes(), &out); jsonErr != nil {
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindMalformedOutput,
			Message: "Azure CLI returned output that could not be parsed.",
			Details: truncateForDetails(stdout.String()),
		}
	}
	if out.AccessToken == "" {
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindMalformedOutput,
			Message: "Azure CLI returned no access token.",
			Details: truncateForDetails(stdout.String()),
		}
	}

	logging.Debug(locatorSubsystem, "Acquired token (expires: %s)", out.ExpiresOn)
	return &protocol.TokenResponse{
		AccessToken: out.AccessToken,
		ExpiresOn:   out.ExpiresOn,
	}, nil
}

// notLoggedInPatterns are the stderr markers the Azure CLI emits when no
// session is active.
var notLoggedInPatterns = []string{
	"az login",
	"please run 'az login'",
	"no subscription found",
	"aadsts700082", // refresh token expired
	"interactive authentication is needed",
}

// isNotLoggedInOutput checks CLI stderr for session-missing markers.
func isNotLoggedInOutput(output string) bool {
	lower := strings.ToLower(output)
	for _, pattern := range notLoggedInPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// combineOutput merges stderr with the exec error so diagnosis details are
// never swallowed, even when the CLI wrote nothing.
func combineOutput(stderr string, err error) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	return truncateForDetails(stderr)
}

// maxDetailsLen caps raw subprocess output carried in error details.
const maxDetailsLen = 4096

func truncateForDetails(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDetailsLen {
		return s[:maxDetailsLen] + "... (truncated)"
	}
	return s
}

// IsNotFoundErr reports whether err is the locator's not-found sentinel.
func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}
