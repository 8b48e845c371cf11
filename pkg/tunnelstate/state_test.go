package tunnelstate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/tunnel-launcher/pkg/tunnelstate"
)

func TestLoadMissingFileIsNoTunnel(t *testing.T) {
	store := tunnelstate.NewStore(filepath.Join(t.TempDir(), "code_tunnel.json"))
	pt, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, pt)
}

func TestLoadUnparsableFileIsNoTunnel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code_tunnel.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	store := tunnelstate.NewStore(path)
	pt, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, pt)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code_tunnel.json")
	store := tunnelstate.NewStore(path)

	want := &tunnelstate.PersistedTunnel{Name: "dev", ID: "T1", Cluster: "C1"}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *want, *got)
}

func TestSaveNilRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code_tunnel.json")
	store := tunnelstate.NewStore(path)
	require.NoError(t, store.Save(&tunnelstate.PersistedTunnel{Name: "dev", ID: "T1", Cluster: "C1"}))
	require.NoError(t, store.Save(nil))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}
