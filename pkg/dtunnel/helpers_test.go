package dtunnel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/datawire/tunnel-launcher/pkg/tunnelapi"
)

// stubTunnelClient backs a fake management API server: it only implements
// the handful of endpoints the name-arbitration and provisioning tests
// exercise. Matches the teacher's style of hand-written test fakes over a
// mocking framework.
type stubTunnelClient struct {
	list []tunnelapi.RemoteTunnel

	createStatus []int // sequence of statuses returned from consecutive POST /tunnels, last repeats
	created      tunnelapi.RemoteTunnel
	createCalls  int

	getStatus int // 0 means 200
	getBody   tunnelapi.RemoteTunnel

	updated    tunnelapi.RemoteTunnel
	updateTags [][]string

	deleteCalls []string
}

func newStubbedClient(t testing.TB, stub *stubTunnelClient) *tunnelapi.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/tunnels":
			_ = json.NewEncoder(w).Encode(stub.list)

		case r.Method == http.MethodPost && r.URL.Path == "/tunnels":
			status := http.StatusOK
			if stub.createCalls < len(stub.createStatus) {
				status = stub.createStatus[stub.createCalls]
			} else if len(stub.createStatus) > 0 {
				status = stub.createStatus[len(stub.createStatus)-1]
			}
			stub.createCalls++
			if status >= 300 {
				w.WriteHeader(status)
				return
			}
			_ = json.NewEncoder(w).Encode(stub.created)

		case r.Method == http.MethodGet:
			if stub.getStatus != 0 && stub.getStatus >= 300 {
				w.WriteHeader(stub.getStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(stub.getBody)

		case r.Method == http.MethodPut:
			var body tunnelapi.RemoteTunnel
			_ = json.NewDecoder(r.Body).Decode(&body)
			stub.updateTags = append(stub.updateTags, body.Tags)
			out := stub.updated
			if out.TunnelID == "" {
				out = body
			}
			_ = json.NewEncoder(w).Encode(out)

		case r.Method == http.MethodDelete:
			stub.deleteCalls = append(stub.deleteCalls, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return tunnelapi.New(server.URL, "test-agent")
}
