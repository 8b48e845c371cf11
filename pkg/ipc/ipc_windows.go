//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

const isWindows = true

// pipeBusy is the raw Windows error code for ERROR_PIPE_BUSY, returned
// while a server instance exists but none is currently free to accept.
const pipeBusy = 231

func connect(path string) (Stream, error) {
	ctx := context.Background()

	for {
		conn, err := winio.DialPipeContext(ctx, path)
		if err == nil {
			return conn, nil
		}
		if errno, ok := asErrno(err); ok && errno == pipeBusy {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
}

func asErrno(err error) (windows.Errno, bool) {
	var errno windows.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// allowEveryone grants pipe access to any local user, matching the teacher's
// pkg/client/sockets_windows.go security descriptor so an unprivileged CLI
// can still reach an agent started elevated.
const allowEveryone = "S:(ML;;NW;;;LW)D:(A;;0x12019f;;;WD)"

func listen(path string) (Listener, error) {
	// go-winio.ListenPipe creates the first pipe instance and, on each
	// Accept, transparently prepares the next instance before handing the
	// connected one back -- the same ordering spec.md requires us to
	// preserve explicitly, but already implemented inside the library.
	l, err := winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: allowEveryone,
		MessageMode:        false,
	})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &netListener{inner: l}, nil
}

// RemoveSocket is a no-op on Windows: a named pipe has no filesystem
// representation to clean up.
func RemoveSocket(path string) error {
	return nil
}

// SocketExists reports whether a pipe server is listening at path.
func SocketExists(path string) bool {
	conn, err := winio.DialPipe(path, nil)
	if err != nil {
		return errors.Is(err, windows.ERROR_PIPE_BUSY)
	}
	_ = conn.Close()
	return true
}
