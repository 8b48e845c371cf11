package dtunnel

import (
	"context"
	"sync"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/tunnel-launcher/pkg/backoff"
	"github.com/datawire/tunnel-launcher/pkg/relay"
	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

// backoffBase and backoffCap are the C9 defaults spec.md §4.3 calls for.
const (
	backoffBase = 5 * time.Second
	backoffCap  = 120 * time.Second
)

// endpointResult is the value type carried on the watch channel: at most one
// of Endpoint/Err is meaningful.
type endpointResult struct {
	endpoint tunnelapi.Endpoint
	err      error
}

// Supervisor owns the reconnect loop for one tunnel's relay connection. It
// is constructed already running; callers observe its state through
// GetEndpoint and tear it down through Kill.
type Supervisor struct {
	relayMu sync.Mutex
	host    relay.Host
	handle  relay.Handle

	tokens AccessTokenProvider

	watchMu     sync.Mutex
	watch       chan endpointResult
	watchClosed bool

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

// NewSupervisor constructs a Supervisor against host, authenticating each
// connect attempt via tokens, and immediately spawns its reconnect loop.
func NewSupervisor(host relay.Host, tokens AccessTokenProvider) *Supervisor {
	s := &Supervisor{
		host:    host,
		tokens:  tokens,
		watch:   make(chan endpointResult, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	ctx := dgroup.WithGoroutineName(context.Background(), "/tunnel-supervisor")
	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	g.Go("reconnect", func(ctx context.Context) error {
		s.run(ctx)
		return nil
	})
	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil {
			dlog.Errorf(ctx, "tunnel supervisor group exited with error: %v", err)
		}
	}()
	return s
}

// publish overwrites the watch's current value with the latest one,
// matching the last-write-wins semantics of spec.md §5. A no-op once the
// watch has been closed, so a GetEndpoint racing Kill can never send on a
// closed channel.
func (s *Supervisor) publish(r endpointResult) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchClosed {
		return
	}
	select {
	case <-s.watch:
	default:
	}
	select {
	case s.watch <- r:
	default:
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer func() {
		s.watchMu.Lock()
		s.watchClosed = true
		close(s.watch)
		s.watchMu.Unlock()
	}()
	b := backoff.New(backoffBase, backoffCap)

	for {
		token, err := s.tokens.RefreshToken(ctx)
		if err != nil {
			s.publish(endpointResult{err: err})
			if s.waitBackoffOrClose(ctx, b) {
				return
			}
			continue
		}

		s.relayMu.Lock()
		handle, err := s.host.Connect(ctx, token)
		if err != nil {
			s.relayMu.Unlock()
			s.publish(endpointResult{err: err})
			if s.waitBackoffOrClose(ctx, b) {
				return
			}
			continue
		}
		s.handle = handle
		s.relayMu.Unlock()

		b.Reset()
		s.publish(endpointResult{endpoint: handle.Endpoint()})

		runErr := make(chan error, 1)
		go func() { runErr <- handle.Run(ctx) }()

		select {
		case err := <-runErr:
			if err != nil {
				dlog.Errorf(ctx, "relay connection failed: %v", err)
				s.publish(endpointResult{err: err})
			} else {
				dlog.Info(ctx, "relay connection closed gracefully")
			}
			if s.waitBackoffOrClose(ctx, b) {
				return
			}
		case <-s.closeCh:
			_ = handle.Close(ctx)
			return
		}
	}
}

// waitBackoffOrClose waits out the next backoff delay, returning true if a
// close was requested in the meantime (the caller must then exit the loop).
func (s *Supervisor) waitBackoffOrClose(ctx context.Context, b *backoff.Backoff) bool {
	select {
	case <-time.After(b.Next()):
		return false
	case <-s.closeCh:
		return true
	}
}

// GetEndpoint blocks until the reconnect loop publishes an endpoint or a
// failure, returning accordingly. If the watch closes before any value is
// produced, it fails with a "tunnel creation cancelled" error.
func (s *Supervisor) GetEndpoint(ctx context.Context) (tunnelapi.Endpoint, error) {
	select {
	case r, ok := <-s.watch:
		if !ok {
			return tunnelapi.Endpoint{}, &DevTunnelError{Msg: "tunnel creation cancelled"}
		}
		s.publish(r)
		return r.endpoint, r.err
	case <-s.done:
		return tunnelapi.Endpoint{}, &DevTunnelError{Msg: "tunnel creation cancelled"}
	case <-ctx.Done():
		return tunnelapi.Endpoint{}, ctx.Err()
	}
}

// AddPortTCP registers port for relay-terminated TCP forwarding.
func (s *Supervisor) AddPortTCP(ctx context.Context, port relay.PortSpec) error {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	return s.host.AddPortTCP(ctx, port)
}

// AddPortDirect registers port for direct forwarding, returning a channel of
// inbound connections.
func (s *Supervisor) AddPortDirect(ctx context.Context, port relay.PortSpec) (<-chan relay.ForwardedPortConnection, error) {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	return s.host.AddPortDirect(ctx, port)
}

// RemovePort stops forwarding portNumber.
func (s *Supervisor) RemovePort(ctx context.Context, portNumber int) error {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	return s.host.RemovePort(ctx, portNumber)
}

// Kill gracefully shuts the supervisor down: it signals the reconnect loop
// to exit, best-effort unregisters from the relay, then drains the watch
// until it confirms the loop has exited. Idempotent.
func (s *Supervisor) Kill(ctx context.Context) {
	s.closeOnce.Do(func() { close(s.closeCh) })

	s.relayMu.Lock()
	host := s.host
	s.relayMu.Unlock()
	if err := host.Unregister(ctx); err != nil {
		dlog.Debugf(ctx, "best-effort relay unregister failed: %v", err)
	}

	<-s.done
	for range s.watch {
	}
}
