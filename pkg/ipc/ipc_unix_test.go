//go:build !windows

package ipc_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datawire/tunnel-launcher/pkg/ipc"
)

func TestConnectListenRoundTrip(t *testing.T) {
	path := ipc.GetSocketName()

	l, err := ipc.Listen(path)
	require.NoError(t, err)
	defer func() {
		_ = l.Close()
		_ = ipc.RemoveSocket(path)
	}()
	require.True(t, ipc.SocketExists(path))

	accepted := make(chan ipc.Stream, 1)
	go func() {
		s, aerr := l.Accept()
		require.NoError(t, aerr)
		accepted <- s
	}()

	client, err := ipc.Connect(path)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}
