package dtunnel

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

func TestCleanHostnameForTunnel(t *testing.T) {
	cases := map[string]string{
		"hello123":               "hello123",
		"-cool-name-":            "cool-name",
		"cool!name with_chars":   "coolname-with-chars",
		"z":                      "remote-machine",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanHostnameForTunnel(in), "input %q", in)
	}
}

func TestCleanHostnameForTunnelScansAtMost60Chars(t *testing.T) {
	long := strings.Repeat("a", 80)
	got := CleanHostnameForTunnel(long)
	assert.Equal(t, strings.Repeat("a", 60), got)
}

func TestIsValidName(t *testing.T) {
	assert.NoError(t, IsValidName("my-box"))

	err := IsValidName("my box")
	require.Error(t, err)
	var invalid *InvalidTunnelName
	assert.ErrorAs(t, err, &invalid)

	err = IsValidName(strings.Repeat("a", 21))
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalid)
}

type fakeRand struct{ n int }

func (f fakeRand) Intn(int) int { return f.n }

func TestIsNameFreeIgnoresZeroConnectionTunnels(t *testing.T) {
	zero := 0
	busy := 1
	existing := []tunnelapi.RemoteTunnel{
		{Tags: []string{"taken"}, Status: &tunnelapi.Status{HostConnectionCount: &busy}},
		{Tags: []string{"idle"}, Status: &tunnelapi.Status{HostConnectionCount: &zero}},
	}
	assert.False(t, isNameFree(existing, "taken"))
	assert.True(t, isNameFree(existing, "idle"))
	assert.True(t, isNameFree(existing, "unused"))
}

func TestGetNameForTunnelPreferredFreeIsUsed(t *testing.T) {
	stub := &stubTunnelClient{}
	client := newStubbedClient(t, stub)
	d := &DevTunnels{client: client, cfg: Config{ApplicationTag: "app"}, rand: fakeRand{}}

	name, err := d.getNameForTunnel(context.Background(), "My-Box", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "my-box", name)
}

func TestGetNameForTunnelPreferredTakenFallsBackToHostname(t *testing.T) {
	busy := 1
	stub := &stubTunnelClient{list: []tunnelapi.RemoteTunnel{
		{Tags: []string{"taken"}, Status: &tunnelapi.Status{HostConnectionCount: &busy}},
	}}
	client := newStubbedClient(t, stub)
	d := &DevTunnels{client: client, cfg: Config{ApplicationTag: "app", IsInteractiveCLI: false}, rand: fakeRand{}}

	name, err := d.getNameForTunnel(context.Background(), "taken", false, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "taken", name)
}

func TestGetNameForTunnelInvalidPreferredReturnsError(t *testing.T) {
	stub := &stubTunnelClient{}
	client := newStubbedClient(t, stub)
	d := &DevTunnels{client: client, cfg: Config{ApplicationTag: "app"}, rand: fakeRand{}}

	_, err := d.getNameForTunnel(context.Background(), "invalid name!", false, nil)
	require.Error(t, err)
	var invalid *InvalidTunnelName
	assert.ErrorAs(t, err, &invalid)
}
