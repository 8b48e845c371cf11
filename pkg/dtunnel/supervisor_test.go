package dtunnel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/tunnel-launcher/pkg/relay"
	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

// fakeHandle is a relay.Handle that blocks in Run until closed, recording
// whether Close was called.
type fakeHandle struct {
	endpoint tunnelapi.Endpoint
	runErr   error

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newFakeHandle(endpoint tunnelapi.Endpoint) *fakeHandle {
	return &fakeHandle{endpoint: endpoint, done: make(chan struct{})}
}

func (h *fakeHandle) Endpoint() tunnelapi.Endpoint { return h.endpoint }

func (h *fakeHandle) Run(ctx context.Context) error {
	select {
	case <-h.done:
		return h.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	return nil
}

func (h *fakeHandle) wasClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeHost is a relay.Host stub whose Connect either fails connectErrN times
// before succeeding, or always succeeds.
type fakeHost struct {
	mu sync.Mutex

	connectErrN   int
	connectCalls  int
	unregistered  bool
	handle        *fakeHandle
	endpoint      tunnelapi.Endpoint
}

func (h *fakeHost) Connect(ctx context.Context, token string) (relay.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectCalls++
	if h.connectCalls <= h.connectErrN {
		return nil, assert.AnError
	}
	h.handle = newFakeHandle(h.endpoint)
	return h.handle, nil
}

func (h *fakeHost) AddPortTCP(ctx context.Context, port relay.PortSpec) error { return nil }

func (h *fakeHost) AddPortDirect(ctx context.Context, port relay.PortSpec) (<-chan relay.ForwardedPortConnection, error) {
	return nil, nil
}

func (h *fakeHost) RemovePort(ctx context.Context, portNumber int) error { return nil }

func (h *fakeHost) Unregister(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregistered = true
	return nil
}

func TestSupervisorPublishesEndpointOnSuccessfulConnect(t *testing.T) {
	want := tunnelapi.Endpoint{HostID: "h1", URIFormat: "https://h1-{port}.example"}
	host := &fakeHost{endpoint: want}
	sup := NewSupervisor(host, NewStaticTokenProvider("tok"))
	t.Cleanup(func() { sup.Kill(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := sup.GetEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSupervisorKillIsGracefulAndIdempotent(t *testing.T) {
	host := &fakeHost{endpoint: tunnelapi.Endpoint{HostID: "h1"}}
	sup := NewSupervisor(host, NewStaticTokenProvider("tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sup.GetEndpoint(ctx)
	require.NoError(t, err)

	sup.Kill(context.Background())
	sup.Kill(context.Background())

	host.mu.Lock()
	assert.True(t, host.unregistered)
	handle := host.handle
	host.mu.Unlock()
	require.NotNil(t, handle)
	assert.True(t, handle.wasClosed())

	_, err = sup.GetEndpoint(context.Background())
	assert.Error(t, err)
}

type erroringTokenProvider struct {
	calls int
}

func (e *erroringTokenProvider) RefreshToken(context.Context) (string, error) {
	e.calls++
	return "", assert.AnError
}

func TestSupervisorPublishesErrorOnTokenRefreshFailure(t *testing.T) {
	host := &fakeHost{endpoint: tunnelapi.Endpoint{HostID: "h1"}}
	sup := NewSupervisor(host, &erroringTokenProvider{})
	t.Cleanup(func() { sup.Kill(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := sup.GetEndpoint(ctx)
	assert.Error(t, err)
}
