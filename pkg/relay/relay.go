// Package relay declares the contract this launcher uses against the relay
// transport library. The relay wire protocol itself is out of scope for
// this repo (spec.md §1): a concrete Host implementation is supplied by a
// separate library, the same way tunnels::connections::RelayTunnelHost is
// an external crate in the original implementation this was distilled from.
package relay

import (
	"context"

	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

// PortSpec describes a port to forward. Protocol defaults to "auto" when
// empty.
type PortSpec struct {
	PortNumber int
	Protocol   string
}

// ProtocolAuto is the default protocol tag for a forwarded port.
const ProtocolAuto = "auto"

// ForwardedPortConnection is a single inbound connection surfaced to a
// direct (non-TCP-terminated) port forward.
type ForwardedPortConnection interface {
	// Port is the local port number this connection was forwarded for.
	Port() int
	// Stream is the raw duplex byte stream for this connection.
	Stream() (readWriteCloser interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		Close() error
	})
}

// Handle represents one live relay connection for a tunnel.
type Handle interface {
	// Endpoint returns the connection-time metadata the relay published
	// for this connection.
	Endpoint() tunnelapi.Endpoint

	// Run drives the connection until it disconnects, returning nil on a
	// graceful (e.g. server-initiated) close and a non-nil error
	// otherwise. It is the long-lived suspension point the supervisor
	// selects against.
	Run(ctx context.Context) error

	// Close tears the connection down from the client side.
	Close(ctx context.Context) error
}

// Host is a single tunnel's relay session. Its exclusivity (at most one
// live connection at a time) is enforced by the supervisor holding a mutex
// around Connect and the port operations, not by Host itself.
type Host interface {
	// Connect establishes a new relay connection authorized by token.
	Connect(ctx context.Context, token string) (Handle, error)

	// AddPortTCP registers a port the relay terminates TCP to on the host
	// machine directly; the caller does not see individual connections.
	AddPortTCP(ctx context.Context, port PortSpec) error

	// AddPortDirect registers a port whose inbound connections are
	// surfaced to the caller as a channel of raw streams.
	AddPortDirect(ctx context.Context, port PortSpec) (<-chan ForwardedPortConnection, error)

	// RemovePort stops forwarding the given port number.
	RemovePort(ctx context.Context, portNumber int) error

	// Unregister tells the relay this host is going away. Best-effort;
	// called during shutdown after the connection is already closing.
	Unregister(ctx context.Context) error
}
