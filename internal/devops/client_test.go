package devops

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) Token() (*oauth2.Token, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

type recordingReporter struct {
	calls    atomic.Int32
	lastBody string
}

func (r *recordingReporter) HandleAuthError(ctx context.Context, message string) bool {
	r.calls.Add(1)
	r.lastBody = message
	return true
}

func TestGetAttachesBearerToken(t *testing.T) {
	var gotAuth string
	var gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.URL.Query().Get("api-version")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":3}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		OrganizationURL: server.URL,
		Tokens:          &staticTokens{token: "tok-abc"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var projects projectList
	if err := client.Get(context.Background(), "_apis/projects", nil, &projects); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotVersion != apiVersion {
		t.Errorf("expected api-version %q, got %q", apiVersion, gotVersion)
	}
	if projects.Count != 3 {
		t.Errorf("expected count 3, got %d", projects.Count)
	}
}

func TestGetReports401BodyVerbatim(t *testing.T) {
	const body = `{"message":"TF400813: The user is not authorized to access this resource."}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(body))
	}))
	defer server.Close()

	reporter := &recordingReporter{}
	client, err := NewClient(Config{
		OrganizationURL: server.URL,
		Tokens:          &staticTokens{token: "tok-expired"},
		Reporter:        reporter,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = client.Get(context.Background(), "_apis/projects", nil, nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", statusErr.StatusCode)
	}
	if got := reporter.calls.Load(); got != 1 {
		t.Fatalf("expected 1 reporter call, got %d", got)
	}
	if reporter.lastBody != body {
		t.Errorf("expected body passed verbatim, got %q", reporter.lastBody)
	}
}

func TestGetNonAuthErrorSkipsReporter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Project or repository not found."}`))
	}))
	defer server.Close()

	reporter := &recordingReporter{}
	client, err := NewClient(Config{
		OrganizationURL: server.URL,
		Tokens:          &staticTokens{token: "tok-abc"},
		Reporter:        reporter,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = client.Get(context.Background(), "_apis/projects", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", statusErr.StatusCode)
	}
	if got := reporter.calls.Load(); got != 0 {
		t.Errorf("expected reporter untouched for non-401, got %d calls", got)
	}
}

func TestGetTokenFailureShortCircuits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached when token acquisition fails")
	}))
	defer server.Close()

	client, err := NewClient(Config{
		OrganizationURL: server.URL,
		Tokens:          &staticTokens{err: errors.New("relay down")},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := client.Get(context.Background(), "_apis/projects", nil, nil); err == nil {
		t.Fatal("expected error when token provider fails")
	}
}

func TestCheckConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$top"); got != "1" {
			t.Errorf("expected $top=1, got %q", got)
		}
		w.Write([]byte(`{"count":1}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		OrganizationURL: server.URL,
		Tokens:          &staticTokens{token: "tok-abc"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.CheckConnection(context.Background()); err != nil {
		t.Fatalf("CheckConnection failed: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Tokens: &staticTokens{}}); err == nil {
		t.Error("expected error for missing organization URL")
	}
	if _, err := NewClient(Config{OrganizationURL: "https://dev.azure.com/org"}); err == nil {
		t.Error("expected error for missing token provider")
	}
}

// Guards against accidental double-encoding of caller-supplied query values.
func TestGetMergesCallerQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("searchCriteria.status"); got != "active" {
			t.Errorf("expected caller query preserved, got %q", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		OrganizationURL: server.URL,
		Tokens:          &staticTokens{token: "tok-abc"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	query := url.Values{}
	query.Set("searchCriteria.status", "active")
	if err := client.Get(context.Background(), "_apis/git/pullrequests", query, nil); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}
