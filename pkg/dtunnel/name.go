package dtunnel

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

const maxTunnelNameLength = 20

var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsValidName reports a name's validity per spec.md §4.7/§8: at most 20
// characters, matching ^[A-Za-z0-9_-]+$.
func IsValidName(name string) error {
	if len(name) > maxTunnelNameLength {
		return &InvalidTunnelName{Msg: fmt.Sprintf(
			"Names cannot be longer than %d characters. Please try a different name.", maxTunnelNameLength)}
	}
	if !validNamePattern.MatchString(name) {
		return &InvalidTunnelName{Msg: "Names can only contain letters, numbers, '-', and '_'. " +
			"Spaces, commas, and all other special characters are not allowed. Please try a different name."}
	}
	return nil
}

// CleanHostnameForTunnel derives a tunnel-name candidate from an OS
// hostname: up to 60 characters are scanned, alphanumerics pass through,
// '-'/'_'/space become '-', everything else is dropped; the result is
// trimmed of leading/trailing '-'. A result shorter than 2 characters falls
// back to the literal "remote-machine".
func CleanHostnameForTunnel(hostname string) string {
	var b strings.Builder
	scanned := 0
	for _, r := range hostname {
		if scanned >= 60 {
			break
		}
		scanned++
		switch {
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('-')
		case (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		}
	}

	trimmed := strings.Trim(b.String(), "-")
	if len(trimmed) < 2 {
		return "remote-machine"
	}
	return trimmed
}

// isNameFree reports whether no tunnel in existing has host_connection_count
// > 0 and carries name as a tag.
func isNameFree(existing []tunnelapi.RemoteTunnel, name string) bool {
	for _, t := range existing {
		if t.Status.ConnectionCount() > 0 && t.HasTag(name) {
			return false
		}
	}
	return true
}

// Prompt asks the user for a tunnel name, offering placeholder as the
// default. Terminal interaction itself is out of scope for this core
// (spec.md §1); callers inject the actual prompting behavior.
type Prompt func(ctx context.Context, placeholder string) (string, error)

// getNameForTunnel implements the arbitration procedure of spec.md §4.7.
func (d *DevTunnels) getNameForTunnel(ctx context.Context, preferredName string, useRandomName bool, prompt Prompt) (string, error) {
	existing, err := d.listApplicationTunnels(ctx)
	if err != nil {
		return "", err
	}

	if preferredName != "" {
		name := strings.ToLower(preferredName)
		if err := IsValidName(name); err != nil {
			dlog.Infof(ctx, "%s is an invalid name", err)
			return "", err
		}
		if isNameFree(existing, name) {
			return name, nil
		}
		dlog.Infof(ctx, "%s is already taken, using a random name instead", name)
		useRandomName = true
	}

	placeholder := strings.ToLower(CleanHostnameForTunnel(osHostname()))
	if !isNameFree(existing, placeholder) {
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s%d", placeholder, i)
			if isNameFree(existing, candidate) {
				placeholder = candidate
				break
			}
		}
	}

	if useRandomName || !d.cfg.IsInteractiveCLI || prompt == nil {
		return placeholder, nil
	}

	for {
		name, err := prompt(ctx, placeholder)
		if err != nil {
			return "", err
		}
		name = strings.ToLower(name)

		if err := IsValidName(name); err != nil {
			dlog.Infof(ctx, "%s", err)
			continue
		}
		if isNameFree(existing, name) {
			return name, nil
		}
		dlog.Infof(ctx, "the name %s is already in use", name)
	}
}

// listApplicationTunnels lists every tunnel carrying this agent's
// application tag, the universe arbitration and recycling both search.
func (d *DevTunnels) listApplicationTunnels(ctx context.Context) ([]tunnelapi.RemoteTunnel, error) {
	return d.client.ListAllTunnels(ctx, tunnelapi.RequestOptions{
		Tags:          []string{d.cfg.ApplicationTag},
		RequireAllTag: true,
	})
}

// tryRecycleTunnel deletes one uniformly-random idle (zero connection)
// application-tagged tunnel, per spec.md §4.7's recycling rule. Returns
// whether a tunnel was recycled.
func (d *DevTunnels) tryRecycleTunnel(ctx context.Context) (bool, error) {
	dlog.Debug(ctx, "tunnel limit hit, trying to recycle an old tunnel")

	existing, err := d.listApplicationTunnels(ctx)
	if err != nil {
		return false, fmt.Errorf("error listing current tunnels: %w", err)
	}

	var recyclable []tunnelapi.RemoteTunnel
	for _, t := range existing {
		if t.Status.ConnectionCount() == 0 {
			recyclable = append(recyclable, t)
		}
	}
	if len(recyclable) == 0 {
		dlog.Debug(ctx, "no tunnels available to recycle")
		return false, nil
	}

	chosen := recyclable[d.rand.Intn(len(recyclable))]
	dlog.Debugf(ctx, "recycling tunnel id %s", chosen.TunnelID)
	if err := d.client.DeleteTunnel(ctx, chosen.Locator(), tunnelapi.RequestOptions{}); err != nil {
		return false, fmt.Errorf("failed to execute tunnel delete: %w", err)
	}
	return true, nil
}

// randSource is the injectable randomness source spec.md §9 calls for so
// that recycle selection can be tested deterministically.
type randSource interface {
	Intn(n int) int
}

func defaultRandSource() randSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// osHostname returns the machine's hostname, or "" if it cannot be
// determined (the caller then falls straight to the "remote-machine"
// placeholder via CleanHostnameForTunnel's short-input rule).
func osHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
