//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const isWindows = false

func connect(path string) (Stream, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return conn, nil
}

func listen(path string) (Listener, error) {
	// Sockets created while running as an elevated user should still be
	// reachable by unprivileged peers; match the permissions the teacher
	// applies in pkg/client/sockets_unix.go.
	if os.Geteuid() == 0 {
		orig := unix.Umask(0)
		defer unix.Umask(orig)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("socket %q already exists: the agent is either already running or terminated ungracefully", path)
		}
		return nil, err
	}
	// The caller, not the OS, decides when the socket file disappears:
	// it should persist across the listener's normal lifetime and only
	// be removed by an explicit RemoveSocket call or process exit cleanup.
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	return &netListener{inner: l}, nil
}

// RemoveSocket removes the on-disk representation of a socket created by
// Listen. Callers invoke this during cleanup since we disable unlink-on-close.
func RemoveSocket(path string) error {
	return os.Remove(path)
}

// SocketExists returns true if a socket file is present at path.
func SocketExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode()&os.ModeSocket != 0
}
