package relay

import (
	"context"
	"fmt"
	"net"

	"azbroker/internal/protocol"
	"azbroker/pkg/logging"
)

// Client is the consumer-side handle to the relay. Each call dials the socket,
// performs one framed round trip, and closes the connection.
type Client struct {
	socketPath string
}

// NewClient creates a relay client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// GetToken requests one token acquisition through the relay. Transport
// failures (daemon not running, connection dropped before a response) are
// returned as transport-unavailable broker errors; host-level failures come
// back as whatever classified error the host reported.
func (c *Client) GetToken(ctx context.Context) (*protocol.TokenResponse, error) {
	resp, err := c.roundTrip(ctx, &protocol.RelayRequest{Type: protocol.TypeGetToken})
	if err != nil {
		return nil, err
	}
	if respErr := resp.Err(); respErr != nil {
		return nil, respErr
	}
	if resp.AccessToken == "" {
		// Neither a token nor a classifiable error: never pass an empty
		// token through silently.
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindUnclassified,
			Message: "No token obtained: relay returned an empty response.",
		}
	}
	return resp, nil
}

// ClearTokenCache notifies the relay to forget any server-side token state.
// Callers treat this as best-effort; a failure must not block a refresh.
func (c *Client) ClearTokenCache(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, &protocol.RelayRequest{Type: protocol.TypeClearTokenCache})
	if err != nil {
		return err
	}
	if respErr := resp.Err(); respErr != nil {
		return respErr
	}
	if !resp.Success {
		return fmt.Errorf("relay did not acknowledge cache clear")
	}
	return nil
}

// roundTrip dials, sends one request frame, and reads one response frame.
func (c *Client) roundTrip(ctx context.Context, req *protocol.RelayRequest) (*protocol.TokenResponse, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		logging.Debug(relaySubsystem, "Dial %s failed: %v", c.socketPath, err)
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindTransportUnavailable,
			Message: "Token relay is not running. Start it with: azbroker serve",
			Details: err.Error(),
		}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := protocol.WriteFrame(conn, req); err != nil {
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindTransportUnavailable,
			Message: BridgeUnavailableMsg,
			Details: err.Error(),
		}
	}

	var resp protocol.TokenResponse
	if err := protocol.ReadFrame(conn, &resp); err != nil {
		// A closed connection with no response must resolve the caller,
		// never leave the request pending.
		return nil, &protocol.BrokerError{
			Kind:    protocol.KindTransportUnavailable,
			Message: BridgeUnavailableMsg,
			Details: err.Error(),
		}
	}
	return &resp, nil
}
