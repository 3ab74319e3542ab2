// Package relay implements the privileged bridge between consumers and the
// protocol host. Only the relay spawns host processes; consumers talk to
// the relay over a Unix socket using the same length-prefixed framing the
// host speaks, one request and one response per connection.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"azbroker/internal/protocol"
	"azbroker/pkg/logging"
)

const relaySubsystem = "Relay"

// BridgeUnavailableMsg is surfaced when the host process cannot be spawned
// or dies without responding.
const BridgeUnavailableMsg = "Token bridge is unavailable. The helper process could not be reached; try reinstalling azbroker."

// HostRunner performs one host round trip: one request in, one response
// out. The default implementation spawns a host subprocess; tests inject
// fakes.
type HostRunner interface {
	RunHost(ctx context.Context, req *protocol.HostRequest) (*protocol.TokenResponse, error)
}

// Server accepts consumer connections on a Unix socket and services one framed
// request per connection. Each GET_TOKEN request gets its own independent
// host invocation; there is no shared state between concurrent requests.
type Server struct {
	socketPath string
	runner     HostRunner

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	wg sync.WaitGroup
}

// Config configures a relay server.
type Config struct {
	// SocketPath is the Unix socket to listen on. The parent directory is
	// created with owner-only permissions.
	SocketPath string

	// Runner services host round trips. Defaults to spawning the current
	// executable with the "host" subcommand.
	Runner HostRunner
}

// NewServer creates a relay server. Call Start to begin accepting.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	runner := cfg.Runner
	if runner == nil {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable for host spawning: %w", err)
		}
		runner = &SubprocessRunner{Command: exe, Args: []string{"host"}}
	}
	return &Server{socketPath: cfg.SocketPath, runner: runner}, nil
}

// Start binds the socket and begins accepting connections in the
// background. A stale socket file from a previous run is removed first.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("relay server already started")
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.listener = listener
	logging.Info(relaySubsystem, "Listening on %s", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.socketPath
}

// Stop closes the listener and waits for in-flight requests to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.closed = true
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	s.wg.Wait()
	logging.Info(relaySubsystem, "Stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient failures (fd pressure, interrupted syscalls) must
			// not kill the daemon's only listener.
			logging.Warn(relaySubsystem, "Accept failed: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn services exactly one request on the connection. A failure in
// one request never affects another; every connection gets its own host
// invocation and its own response.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	requestID := uuid.NewString()

	var req protocol.RelayRequest
	if err := protocol.ReadFrame(conn, &req); err != nil {
		logging.Warn(relaySubsystem, "[%s] Failed to read request: %v", requestID, err)
		s.respond(conn, requestID, protocol.ErrorResponse(protocol.KindUnclassified,
			"Malformed relay request.", err.Error()))
		return
	}

	logging.Debug(relaySubsystem, "[%s] Request type=%s", requestID, req.Type)

	switch req.Type {
	case protocol.TypeGetToken:
		s.respond(conn, requestID, s.invokeHost(ctx, requestID))

	case protocol.TypeClearTokenCache:
		// Clearing is a consumer-side cache concern; the relay holds no
		// token state of its own, so it acknowledges immediately.
		s.respond(conn, requestID, &protocol.TokenResponse{Success: true})

	default:
		s.respond(conn, requestID, protocol.ErrorResponse(protocol.KindUnknownAction,
			fmt.Sprintf("Unknown request type: %s", req.Type), ""))
	}
}

// invokeHost performs one host round trip and maps transport failures to
// transport-unavailable errors. The host's own responses (success or
// classified error) are forwarded verbatim.
func (s *Server) invokeHost(ctx context.Context, requestID string) *protocol.TokenResponse {
	resp, err := s.runner.RunHost(ctx, &protocol.HostRequest{Action: protocol.ActionGetToken})
	if err != nil {
		logging.Warn(relaySubsystem, "[%s] Host round trip failed: %v", requestID, err)
		return protocol.ErrorResponse(protocol.KindTransportUnavailable, BridgeUnavailableMsg, err.Error())
	}
	if resp.IsError() {
		logging.Info(relaySubsystem, "[%s] Host reported: %s (%s)", requestID, resp.Error, resp.Kind)
	} else {
		logging.Info(relaySubsystem, "[%s] Token delivered (expires: %s)", requestID, resp.ExpiresOn)
	}
	return resp
}

func (s *Server) respond(conn net.Conn, requestID string, resp *protocol.TokenResponse) {
	if err := protocol.WriteFrame(conn, resp); err != nil {
		logging.Warn(relaySubsystem, "[%s] Failed to write response: %v", requestID, err)
	}
}

// SubprocessRunner spawns a host process per round trip and speaks the
// framing protocol over its standard streams.
type SubprocessRunner struct {
	// Command is the host executable.
	Command string
	// Args are passed to the executable (typically ["host"]).
	Args []string
}

// RunHost spawns the host, writes the single request frame to its stdin,
// reads the single response frame from its stdout, and reaps the process.
// Any failure to start, an exit without output, or an early stream close
// surfaces as an error; the relay never waits beyond the host's lifetime.
func (r *SubprocessRunner) RunHost(ctx context.Context, req *protocol.HostRequest) (*protocol.TokenResponse, error) {
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open host stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start host process: %w", err)
	}

	writeErr := protocol.WriteFrame(stdin, req)
	stdin.Close()
	if writeErr != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to send request to host: %w", writeErr)
	}

	var resp protocol.TokenResponse
	readErr := protocol.ReadFrame(stdout, &resp)
	waitErr := cmd.Wait()

	if readErr != nil {
		if waitErr != nil {
			return nil, fmt.Errorf("host exited without a response: %w", waitErr)
		}
		return nil, fmt.Errorf("failed to read host response: %w", readErr)
	}
	return &resp, nil
}
