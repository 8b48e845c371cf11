// Package dtunnel implements the tunnel lifecycle engine: name arbitration,
// provisioning against the remote management API, the long-lived relay
// supervisor, and the public handle callers drive port operations through.
package dtunnel

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/tunnel-launcher/pkg/relay"
	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
	"github.com/datawire/tunnel-launcher/pkg/tunnelstate"
)

// ExistingTunnel is the caller-supplied bypass record used by
// StartExistingTunnel when the host token is already known and no lookup
// against the management API is required.
type ExistingTunnel struct {
	TunnelName string
	HostToken  string
	TunnelID   string
	Cluster    string
}

// HostFactory builds the relay session for a single tunnel, mirroring the
// external library's RelayTunnelHost(locator, mgmt) constructor (spec.md
// §6). A concrete relay.Host implementation lives outside this repo; tests
// supply a fake.
type HostFactory func(loc tunnelapi.Locator, client *tunnelapi.Client) relay.Host

// DevTunnels orchestrates the remote tunnel's identity: creation, rename,
// recycling, protocol-tag maintenance, and persistence. A DevTunnels
// instance is not safe for concurrent configuration-changing calls (spec.md
// §5): callers serialize create/rename/get_or_create against each other.
// The active supervisor it hands off to is independent and may run
// concurrently once started.
type DevTunnels struct {
	client  *tunnelapi.Client
	state   *tunnelstate.Store
	cfg     Config
	newHost HostFactory
	rand    randSource
}

// New returns a DevTunnels orchestrating tunnels through client, persisting
// identity at state, and building one relay.Host per tunnel via newHost.
func New(client *tunnelapi.Client, state *tunnelstate.Store, newHost HostFactory, cfg Config) *DevTunnels {
	return &DevTunnels{client: client, state: state, cfg: cfg, newHost: newHost, rand: defaultRandSource()}
}

// hostTunnelRequestOptions mirrors the original's HOST_TUNNEL_REQUEST_OPTIONS
// (dev_tunnels.rs): every lookup or create that will be handed off to a
// supervisor must ask for ports and a "host"-scoped access token, or
// RemoteTunnel.AccessTokens["host"] comes back empty.
var hostTunnelRequestOptions = tunnelapi.RequestOptions{
	IncludePorts: true,
	TokenScopes:  []string{"host"},
}

func (d *DevTunnels) draftTags(name string) []string {
	return []string{strings.ToLower(name), d.cfg.ProtocolVersionTag(), d.cfg.ApplicationTag}
}

// CreateTunnel issues create_tunnel with the standard draft tags, retrying
// once via recycle (spec.md §4.7) on a TOO_MANY_REQUESTS response.
func (d *DevTunnels) CreateTunnel(ctx context.Context, name string, opts tunnelapi.RequestOptions) (*tunnelstate.PersistedTunnel, *tunnelapi.RemoteTunnel, error) {
	draft := tunnelapi.TunnelDraft{Tags: d.draftTags(name)}

	remote, err := d.client.CreateTunnel(ctx, draft, opts)
	if err != nil {
		if tunnelapi.IsTooManyRequests(err) {
			recycled, rerr := d.tryRecycleTunnel(ctx)
			if rerr != nil {
				return nil, nil, &TunnelCreationFailed{Name: name, Cause: rerr.Error()}
			}
			if !recycled {
				return nil, nil, &TunnelCreationFailed{Name: name, Cause: "tunnel quota exhausted and no idle tunnel to recycle"}
			}
			remote, err = d.client.CreateTunnel(ctx, draft, opts)
		}
		if err != nil {
			return nil, nil, &TunnelCreationFailed{Name: name, Cause: err.Error()}
		}
	}

	persisted := &tunnelstate.PersistedTunnel{
		Name:    strings.ToLower(name),
		ID:      remote.TunnelID,
		Cluster: remote.ClusterID,
	}
	if err := d.state.Save(persisted); err != nil {
		return nil, nil, errors.Wrap(err, "failed to persist new tunnel identity")
	}
	return persisted, remote, nil
}

// GetOrCreateTunnel looks up persisted's locator; a NOT_FOUND or FORBIDDEN
// response is treated as "the tunnel is gone", and a fresh one is created
// using rename if set, else persisted.Name. isNew reports which path was
// taken.
func (d *DevTunnels) GetOrCreateTunnel(ctx context.Context, persisted *tunnelstate.PersistedTunnel, rename string, opts tunnelapi.RequestOptions) (remote *tunnelapi.RemoteTunnel, out *tunnelstate.PersistedTunnel, isNew bool, err error) {
	loc := tunnelapi.Locator{Cluster: persisted.Cluster, ID: persisted.ID}
	remote, err = d.client.GetTunnel(ctx, loc, opts)
	if err == nil {
		return remote, persisted, false, nil
	}

	if !tunnelapi.IsNotFound(err) && !tunnelapi.IsForbidden(err) {
		return nil, nil, false, err
	}

	name := rename
	if name == "" {
		name = persisted.Name
	}
	out, remote, err = d.CreateTunnel(ctx, name, opts)
	if err != nil {
		return nil, nil, false, err
	}
	return remote, out, true, nil
}

// UpdateTunnelName validates and lowercases newName, asserts it is free
// server-side, then either creates a fresh tunnel under that name (if
// persisted is nil) or replaces an existing tunnel's tag set with
// [newName, applicationTag] -- deliberately dropping the protocol-version
// tag (spec.md §9's documented ambiguity: the next start re-adds it; a
// rename not followed by a start leaves the tag absent until then).
func (d *DevTunnels) UpdateTunnelName(ctx context.Context, persisted *tunnelstate.PersistedTunnel, newName string) (*tunnelstate.PersistedTunnel, error) {
	name := strings.ToLower(newName)
	if err := IsValidName(name); err != nil {
		return nil, err
	}

	existing, err := d.listApplicationTunnels(ctx)
	if err != nil {
		return nil, err
	}
	if !isNameFree(existing, name) {
		return nil, &InvalidTunnelName{Msg: fmt.Sprintf("the name %s is already in use", name)}
	}

	if persisted == nil {
		out, _, err := d.CreateTunnel(ctx, name, tunnelapi.RequestOptions{})
		return out, err
	}

	remote, out, isNew, err := d.GetOrCreateTunnel(ctx, persisted, name, tunnelapi.RequestOptions{})
	if err != nil {
		return nil, err
	}
	if isNew {
		// CreateTunnel already set the requested name and persisted it.
		return out, nil
	}

	remote.Tags = []string{name, d.cfg.ApplicationTag}
	if _, err := d.client.UpdateTunnel(ctx, remote, tunnelapi.RequestOptions{}); err != nil {
		return nil, errors.Wrap(err, "failed to update tunnel tags for rename")
	}

	renamed := &tunnelstate.PersistedTunnel{Name: name, ID: remote.TunnelID, Cluster: remote.ClusterID}
	if err := d.state.Save(renamed); err != nil {
		return nil, errors.Wrap(err, "failed to persist renamed tunnel identity")
	}
	return renamed, nil
}

// RenameTunnel is a convenience wrapper over UpdateTunnelName, matching the
// original implementation's rename_tunnel entry point.
func (d *DevTunnels) RenameTunnel(ctx context.Context, persisted *tunnelstate.PersistedTunnel, newName string) (*tunnelstate.PersistedTunnel, error) {
	return d.UpdateTunnelName(ctx, persisted, newName)
}

// UpdateProtocolVersionTag strips every existing protocol-version tag from
// remote and appends the current one exactly once, pushing the change.
func (d *DevTunnels) UpdateProtocolVersionTag(ctx context.Context, remote *tunnelapi.RemoteTunnel, opts tunnelapi.RequestOptions) (*tunnelapi.RemoteTunnel, error) {
	tags := make([]string, 0, len(remote.Tags)+1)
	for _, t := range remote.Tags {
		if !strings.HasPrefix(t, ProtocolVersionTagPrefix) {
			tags = append(tags, t)
		}
	}
	tags = append(tags, d.cfg.ProtocolVersionTag())
	remote.Tags = tags

	updated, err := d.client.UpdateTunnel(ctx, remote, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update protocol-version tag")
	}
	return updated, nil
}

func hasProtocolVersionTag(tags []string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, ProtocolVersionTagPrefix) {
			return true
		}
	}
	return false
}

// StartNewLauncherTunnel is the main provisioning entry point: it resolves
// or creates the tunnel identity, ensures the protocol-version tag, prunes
// stale ports and endpoints, and hands off to a supervisor seeded with a
// lookup token provider.
func (d *DevTunnels) StartNewLauncherTunnel(ctx context.Context, preferred string, useRandomName bool, prompt Prompt) (*Tunnel, error) {
	persisted, err := d.state.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load persisted tunnel identity")
	}

	var remote *tunnelapi.RemoteTunnel
	var isNew bool

	switch {
	case persisted != nil && preferred != "" && !strings.EqualFold(persisted.Name, preferred):
		persisted, err = d.UpdateTunnelName(ctx, persisted, preferred)
		if err != nil {
			return nil, err
		}
		remote, err = d.client.GetTunnel(ctx, tunnelapi.Locator{Cluster: persisted.Cluster, ID: persisted.ID}, hostTunnelRequestOptions)
		if err != nil {
			return nil, err
		}
	case persisted != nil:
		remote, persisted, isNew, err = d.GetOrCreateTunnel(ctx, persisted, "", hostTunnelRequestOptions)
		if err != nil {
			return nil, err
		}
	default:
		name, err := d.getNameForTunnel(ctx, preferred, useRandomName, prompt)
		if err != nil {
			return nil, err
		}
		persisted, remote, err = d.CreateTunnel(ctx, name, hostTunnelRequestOptions)
		if err != nil {
			return nil, err
		}
		isNew = true
	}

	if !isNew && !hasProtocolVersionTag(remote.Tags) {
		remote, err = d.UpdateProtocolVersionTag(ctx, remote, hostTunnelRequestOptions)
		if err != nil {
			return nil, err
		}
	}

	if err := d.pruneStaleState(ctx, remote); err != nil {
		return nil, err
	}

	seed := remote.AccessTokens["host"]
	loc := tunnelapi.Locator{Cluster: persisted.Cluster, ID: persisted.ID}
	tokens := NewLookupTokenProvider(d.client, loc, seed)
	client := d.client.WithAuthorization(tunnelapi.Authorization{Scheme: "Tunnel", Token: seed})

	sup := NewSupervisor(d.newHost(loc, client), tokens)
	return &Tunnel{Name: persisted.Name, ID: persisted.ID, supervisor: sup}, nil
}

// pruneStaleState deletes every forwarded port other than the control port
// and every previously-published endpoint of remote (spec.md §4.8's hygiene
// pass). Every deletion is attempted even after an earlier one fails; the
// failures are aggregated and returned, so any failure fails the caller.
func (d *DevTunnels) pruneStaleState(ctx context.Context, remote *tunnelapi.RemoteTunnel) error {
	loc := remote.Locator()
	var result *multierror.Error

	for _, p := range remote.Ports {
		if p.PortNumber == d.cfg.ControlPort {
			continue
		}
		if err := d.client.DeleteTunnelPort(ctx, loc, p.PortNumber, tunnelapi.RequestOptions{}); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to delete stale port %d", p.PortNumber))
		}
	}
	for _, e := range remote.Endpoints {
		if err := d.client.DeleteTunnelEndpoints(ctx, loc, e.HostID, "", tunnelapi.RequestOptions{}); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to delete stale endpoint for host %s", e.HostID))
		}
	}
	if result != nil {
		dlog.Infof(ctx, "endpoint hygiene pass hit %d error(s): %s", result.Len(), result)
	}
	return result.ErrorOrNil()
}

// StartExistingTunnel builds a locator from tun's caller-supplied fields and
// starts a supervisor authorized with the caller-supplied host token,
// seeded with a static (non-refreshing) token provider.
func (d *DevTunnels) StartExistingTunnel(tun ExistingTunnel) *Tunnel {
	loc := tunnelapi.Locator{Cluster: tun.Cluster, ID: tun.TunnelID}
	client := d.client.WithAuthorization(tunnelapi.Authorization{Scheme: "Tunnel", Token: tun.HostToken})
	tokens := NewStaticTokenProvider(tun.HostToken)

	sup := NewSupervisor(d.newHost(loc, client), tokens)
	return &Tunnel{Name: tun.TunnelName, ID: tun.TunnelID, supervisor: sup}
}

// RemoveTunnel deletes the persisted tunnel from the remote service, if
// any, and clears the persisted identity.
func (d *DevTunnels) RemoveTunnel(ctx context.Context) error {
	persisted, err := d.state.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load persisted tunnel identity")
	}
	if persisted != nil {
		loc := tunnelapi.Locator{Cluster: persisted.Cluster, ID: persisted.ID}
		if err := d.client.DeleteTunnel(ctx, loc, tunnelapi.RequestOptions{}); err != nil {
			return errors.Wrap(err, "failed to delete remote tunnel")
		}
	}
	return d.state.Save(nil)
}
