package tunnelapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Authorization is a bearer credential attached to every request, either an
// account-scoped token or a tunnel-scoped host token.
type Authorization struct {
	Scheme string // "Bearer" or "Tunnel"
	Token  string
}

func (a Authorization) header() string {
	return fmt.Sprintf("%s %s", a.Scheme, a.Token)
}

// Client wraps the remote tunnel management REST API. It is safe for
// concurrent use: the underlying resty.Client is goroutine-safe and a
// Client's mutable state is limited to its authorization, which callers
// should only change via WithAuthorization (producing a distinct copy).
type Client struct {
	http *resty.Client
	auth Authorization
}

// New returns a Client targeting baseURL, identifying itself with
// userAgent on every request.
func New(baseURL, userAgent string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", userAgent)
	return &Client{http: http}
}

// WithAuthorization returns a copy of c that attaches auth to every request,
// used to swap between an account bearer token and a tunnel-scoped host
// token (spec.md §4.6).
func (c *Client) WithAuthorization(auth Authorization) *Client {
	return &Client{http: c.http, auth: auth}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if c.auth.Token != "" {
		r.SetHeader("Authorization", c.auth.header())
	}
	return r
}

func applyOptions(r *resty.Request, opts RequestOptions) {
	if opts.IncludePorts {
		r.SetQueryParam("includePorts", "true")
	}
	for _, scope := range opts.TokenScopes {
		r.QueryParam.Add("tokenScopes", scope)
	}
	for _, tag := range opts.Tags {
		r.QueryParam.Add("tags", tag)
	}
	if opts.RequireAllTag {
		r.SetQueryParam("requireAllTags", "true")
	}
}

func tunnelPath(loc Locator) string {
	return fmt.Sprintf("/tunnels/%s/clusters/%s", loc.ID, loc.Cluster)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "management api request failed")
	}
	if resp.IsError() {
		return &HTTPError{Status: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
	}
	return nil
}

// CreateTunnel creates a tunnel with the given draft tags, returning the
// server's view of it.
func (c *Client) CreateTunnel(ctx context.Context, draft TunnelDraft, opts RequestOptions) (*RemoteTunnel, error) {
	var out RemoteTunnel
	r := c.request(ctx).SetBody(draft).SetResult(&out)
	applyOptions(r, opts)
	resp, err := r.Post("/tunnels")
	if cerr := checkResponse(resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// GetTunnel fetches the current server state of the tunnel at loc.
func (c *Client) GetTunnel(ctx context.Context, loc Locator, opts RequestOptions) (*RemoteTunnel, error) {
	var out RemoteTunnel
	r := c.request(ctx).SetResult(&out)
	applyOptions(r, opts)
	resp, err := r.Get(tunnelPath(loc))
	if cerr := checkResponse(resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// UpdateTunnel replaces the mutable fields (tags, in practice) of an
// existing tunnel.
func (c *Client) UpdateTunnel(ctx context.Context, tunnel *RemoteTunnel, opts RequestOptions) (*RemoteTunnel, error) {
	var out RemoteTunnel
	r := c.request(ctx).SetBody(tunnel).SetResult(&out)
	applyOptions(r, opts)
	resp, err := r.Put(tunnelPath(tunnel.Locator()))
	if cerr := checkResponse(resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// DeleteTunnel removes a tunnel entirely.
func (c *Client) DeleteTunnel(ctx context.Context, loc Locator, opts RequestOptions) error {
	r := c.request(ctx)
	applyOptions(r, opts)
	resp, err := r.Delete(tunnelPath(loc))
	return checkResponse(resp, err)
}

// DeleteTunnelPort removes a single forwarded-port record.
func (c *Client) DeleteTunnelPort(ctx context.Context, loc Locator, portNumber int, opts RequestOptions) error {
	r := c.request(ctx)
	applyOptions(r, opts)
	resp, err := r.Delete(tunnelPath(loc) + "/ports/" + strconv.Itoa(portNumber))
	return checkResponse(resp, err)
}

// DeleteTunnelEndpoints removes the published endpoint(s) for hostID,
// optionally narrowed by a connection-mode filter.
func (c *Client) DeleteTunnelEndpoints(ctx context.Context, loc Locator, hostID string, filter string, opts RequestOptions) error {
	r := c.request(ctx)
	applyOptions(r, opts)
	if filter != "" {
		r.SetQueryParam("connectionMode", filter)
	}
	resp, err := r.Delete(tunnelPath(loc) + "/endpoints/" + hostID)
	return checkResponse(resp, err)
}

// ListAllTunnels lists tunnels visible to the caller's credentials matching
// opts.Tags (AND'd when opts.RequireAllTag is set).
func (c *Client) ListAllTunnels(ctx context.Context, opts RequestOptions) ([]RemoteTunnel, error) {
	var out []RemoteTunnel
	r := c.request(ctx).SetResult(&out)
	applyOptions(r, opts)
	resp, err := r.Get("/tunnels")
	if cerr := checkResponse(resp, err); cerr != nil {
		return nil, cerr
	}
	return out, nil
}
