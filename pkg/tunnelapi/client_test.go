package tunnelapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

func TestCreateTunnelSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tunnels", r.URL.Path)
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var draft tunnelapi.TunnelDraft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		assert.Equal(t, []string{"dev"}, draft.Tags)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tunnelapi.RemoteTunnel{
			ClusterID: "C1",
			TunnelID:  "T1",
			Tags:      draft.Tags,
		})
	}))
	defer srv.Close()

	client := tunnelapi.New(srv.URL, "test-agent/1.0").
		WithAuthorization(tunnelapi.Authorization{Scheme: "Bearer", Token: "tok"})

	tunnel, err := client.CreateTunnel(testCtx(), tunnelapi.TunnelDraft{Tags: []string{"dev"}}, tunnelapi.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "T1", tunnel.TunnelID)
	assert.Equal(t, "C1", tunnel.ClusterID)
}

func TestGetTunnelNotFoundMapsToHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := tunnelapi.New(srv.URL, "test-agent/1.0")
	_, err := client.GetTunnel(testCtx(), tunnelapi.Locator{Cluster: "C1", ID: "T1"}, tunnelapi.RequestOptions{})
	require.Error(t, err)
	assert.True(t, tunnelapi.IsNotFound(err))
	assert.False(t, tunnelapi.IsForbidden(err))
}

func TestCreateTunnelTooManyRequestsMapsToHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := tunnelapi.New(srv.URL, "test-agent/1.0")
	_, err := client.CreateTunnel(testCtx(), tunnelapi.TunnelDraft{Tags: []string{"dev"}}, tunnelapi.RequestOptions{})
	require.Error(t, err)
	assert.True(t, tunnelapi.IsTooManyRequests(err))
}
