package dtunnel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

// AccessTokenProvider yields a fresh host-scoped token on demand. The
// supervisor calls RefreshToken once per connect attempt; it never retries
// a single provider call itself (spec.md §4.9's reconnect loop is the sole
// retry authority).
type AccessTokenProvider interface {
	RefreshToken(ctx context.Context) (string, error)
}

// StaticTokenProvider returns the same token on every call; it never fails.
// Used by StartExistingTunnel, where the caller already holds a host token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider returns a provider that always yields token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// RefreshToken implements AccessTokenProvider.
func (s *StaticTokenProvider) RefreshToken(context.Context) (string, error) {
	return s.token, nil
}

// LookupTokenProvider consumes a one-shot seed token on its first call,
// then looks up a fresh host token from the management API on every
// subsequent call. This mirrors the teacher's cbTokenSource
// (pkg/client/connector/auth/refresh.go): a small stateful wrapper around a
// refreshable credential, reshaped here to hand back a plain bearer string
// instead of an *oauth2.Token since the relay SPI (pkg/relay) only needs
// the string.
type LookupTokenProvider struct {
	client  *tunnelapi.Client
	locator tunnelapi.Locator

	mu   sync.Mutex
	seed *oauth2.Token
}

// NewLookupTokenProvider returns a provider seeded with the token already
// returned by the create/get response that established seed, avoiding a
// redundant round trip on the very first connect. The seed is held as an
// *oauth2.Token, the same shape the teacher's cbTokenSource caches its
// current credential as, even though the relay SPI only ever consumes the
// bare AccessToken string.
func NewLookupTokenProvider(client *tunnelapi.Client, locator tunnelapi.Locator, seed string) *LookupTokenProvider {
	return &LookupTokenProvider{client: client, locator: locator, seed: &oauth2.Token{AccessToken: seed}}
}

// RefreshToken implements AccessTokenProvider.
func (l *LookupTokenProvider) RefreshToken(ctx context.Context) (string, error) {
	l.mu.Lock()
	seed := l.seed
	l.seed = nil
	l.mu.Unlock()

	if seed != nil {
		return seed.AccessToken, nil
	}

	tunnel, err := l.client.GetTunnel(ctx, l.locator, tunnelapi.RequestOptions{
		TokenScopes: []string{"host"},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to lookup tunnel for host token")
	}

	token, ok := tunnel.AccessTokens["host"]
	if !ok {
		return "", errors.New("tunnel lookup response did not include a host token")
	}
	return (&oauth2.Token{AccessToken: token}).AccessToken, nil
}
