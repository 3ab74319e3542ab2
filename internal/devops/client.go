// Package devops is the thin Azure DevOps REST collaborator. It exists to
// exercise the broker contract: every request carries a bearer token from
// the token cache, and a 401 response is reported verbatim to the auth
// classifier before being surfaced. API business semantics beyond that are
// out of scope.
package devops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"azbroker/pkg/logging"
)

const devopsSubsystem = "DevOps"

// apiVersion is the REST API version pinned on every request.
const apiVersion = "7.1"

// AuthReporter receives 401 response bodies for classification (the auth
// classifier implements this).
type AuthReporter interface {
	HandleAuthError(ctx context.Context, message string) bool
}

// Client issues authenticated requests to an Azure DevOps organization.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	reporter   AuthReporter
}

// Config configures a Client.
type Config struct {
	// OrganizationURL is the organization root, for example
	// "https://dev.azure.com/fabrikam".
	OrganizationURL string

	// Tokens supplies bearer tokens (the token cache's TokenSource).
	Tokens oauth2.TokenSource

	// Reporter receives 401 bodies. Optional; without it 401s still fail,
	// they just skip classification.
	Reporter AuthReporter

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// NewClient creates an Azure DevOps client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.OrganizationURL == "" {
		return nil, fmt.Errorf("organization URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.OrganizationURL, "/"),
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		reporter:   cfg.Reporter,
	}, nil
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("azure devops request failed with status %d", e.StatusCode)
}

// Get issues an authenticated GET against the organization and decodes the
// JSON response into out. On a 401 the response body is passed verbatim to
// the reporter so the token cache is invalidated, then the error is
// returned; retry belongs to the caller.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain bearer token: %w", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", apiVersion)

	requestURL := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		message := strings.TrimSpace(string(body))
		logging.Info(devopsSubsystem, "Received 401 from %s", path)
		if c.reporter != nil {
			c.reporter.HandleAuthError(ctx, message)
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: message}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// projectList is the minimal shape of the projects listing used for
// connection checks.
type projectList struct {
	Count int `json:"count"`
}

// CheckConnection verifies that the organization is reachable with the
// current token by listing one project.
func (c *Client) CheckConnection(ctx context.Context) error {
	query := url.Values{}
	query.Set("$top", "1")

	var projects projectList
	if err := c.Get(ctx, "_apis/projects", query, &projects); err != nil {
		return err
	}
	logging.Debug(devopsSubsystem, "Connection check passed (%d project(s) visible)", projects.Count)
	return nil
}
