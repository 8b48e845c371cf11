// Package tunnelapi is a typed wrapper around the remote tunnel management
// REST API: create/get/update/delete tunnel, port and endpoint pruning, and
// listing by tag. It maps non-2xx responses to a typed HTTPError so callers
// can branch on status without parsing bodies themselves.
package tunnelapi

// Locator identifies a tunnel on the remote service by (cluster, id).
type Locator struct {
	Cluster string
	ID      string
}

// Port is a single forwarded-port record on a tunnel.
type Port struct {
	PortNumber int    `json:"portNumber"`
	Protocol   string `json:"protocol,omitempty"`
}

// Endpoint is connection-time metadata published once a host connects.
// URIFormat carries the PortToken placeholder substituted per forwarded
// port to render public URLs.
type Endpoint struct {
	HostID    string `json:"hostId"`
	URIFormat string `json:"portUriFormat,omitempty"`
}

// PortToken is the placeholder in Endpoint.URIFormat replaced with a
// concrete port number to render a public URL.
const PortToken = "{port}"

// Status carries the live connection state the server reports for a tunnel.
type Status struct {
	HostConnectionCount *int `json:"hostConnectionCount,omitempty"`
}

// ConnectionCount returns the reported host connection count, treating an
// absent value as zero per spec.md §4.7/§4.8's recycle and uniqueness rules.
func (s *Status) ConnectionCount() int {
	if s == nil || s.HostConnectionCount == nil {
		return 0
	}
	return *s.HostConnectionCount
}

// RemoteTunnel is the server's view of a tunnel.
type RemoteTunnel struct {
	ClusterID    string            `json:"clusterId,omitempty"`
	TunnelID     string            `json:"tunnelId,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Ports        []Port            `json:"ports,omitempty"`
	Endpoints    []Endpoint        `json:"endpoints,omitempty"`
	Status       *Status           `json:"status,omitempty"`
	AccessTokens map[string]string `json:"accessTokens,omitempty"`
}

// Locator derives this tunnel's remote locator.
func (t *RemoteTunnel) Locator() Locator {
	return Locator{Cluster: t.ClusterID, ID: t.TunnelID}
}

// HasTag reports whether tag is present among t's tags.
func (t *RemoteTunnel) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

// TunnelDraft is the request body CreateTunnel sends to create a tunnel.
// UpdateTunnel sends a full RemoteTunnel instead.
type TunnelDraft struct {
	Tags      []string `json:"tags"`
	ClusterID string   `json:"clusterId,omitempty"`
	TunnelID  string   `json:"tunnelId,omitempty"`
}

// RequestOptions carries the per-call query parameters the management API
// supports.
type RequestOptions struct {
	IncludePorts  bool
	TokenScopes   []string
	Tags          []string
	RequireAllTag bool
}
