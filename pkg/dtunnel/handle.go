package dtunnel

import (
	"context"
	"strconv"
	"strings"

	"github.com/datawire/tunnel-launcher/pkg/relay"
	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

// Tunnel is the public façade handed back by StartNewLauncherTunnel and
// StartExistingTunnel. It is the only surface the rest of the agent sees
// (spec.md §2); every operation forwards to the supervisor.
type Tunnel struct {
	Name string
	ID   string

	supervisor *Supervisor
}

// AddPortTCP registers port for relay-terminated TCP forwarding.
func (t *Tunnel) AddPortTCP(ctx context.Context, port relay.PortSpec) error {
	return t.supervisor.AddPortTCP(ctx, port)
}

// AddPortDirect registers port for direct forwarding, returning a channel of
// inbound connections.
func (t *Tunnel) AddPortDirect(ctx context.Context, port relay.PortSpec) (<-chan relay.ForwardedPortConnection, error) {
	return t.supervisor.AddPortDirect(ctx, port)
}

// RemovePort stops forwarding portNumber.
func (t *Tunnel) RemovePort(ctx context.Context, portNumber int) error {
	return t.supervisor.RemovePort(ctx, portNumber)
}

// Close gracefully tears the tunnel's relay connection down.
func (t *Tunnel) Close(ctx context.Context) {
	t.supervisor.Kill(ctx)
}

// GetPortURI fetches the current endpoint from the supervisor and renders
// its URI template by substituting the port-number placeholder token. Fails
// if the endpoint carries no URI template.
func (t *Tunnel) GetPortURI(ctx context.Context, portNumber int) (string, error) {
	endpoint, err := t.supervisor.GetEndpoint(ctx)
	if err != nil {
		return "", err
	}
	if endpoint.URIFormat == "" {
		return "", &DevTunnelError{Msg: "endpoint has no URI template"}
	}
	return strings.ReplaceAll(endpoint.URIFormat, tunnelapi.PortToken, strconv.Itoa(portNumber)), nil
}
