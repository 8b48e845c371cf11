// Package ipc provides a platform-abstract bidirectional local stream and
// listener over a Unix domain socket or, on Windows, a named pipe. Callers
// on the same machine use this to reach the agent without knowing which
// transport backs it.
package ipc

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// appName is the prefix used when generating a per-instance socket or pipe
// name. It is small and fixed; callers that need multiple independent
// endpoints call GetSocketName once per endpoint.
const appName = "tunnel-launcher"

// Stream is a duplex byte stream to or from a connected peer.
type Stream interface {
	io.ReadWriteCloser
}

// ReadHalf is the read-only projection of a Stream produced by Split.
type ReadHalf interface {
	io.Reader
}

// WriteHalf is the write-only projection of a Stream produced by Split.
type WriteHalf interface {
	io.Writer
}

// Listener accepts incoming connections on a local endpoint.
type Listener interface {
	Accept() (Stream, error)
	Close() error
}

// GetSocketName returns a random, per-instance path: a Unix domain socket
// path under the system temp directory on Unix-family hosts, or a named
// pipe path under \\.\pipe\ on Windows.
func GetSocketName() string {
	name := fmt.Sprintf("%s-%s", appName, uuid.New().String())
	return socketNameForPlatform(name)
}

func socketNameForPlatform(name string) string {
	if isWindows {
		return `\\.\pipe\` + name
	}
	return filepath.Join(os.TempDir(), name)
}

// Connect dials the local endpoint at path.
func Connect(path string) (Stream, error) {
	return connect(path)
}

// Listen starts accepting connections at path. Only one Listener may exist
// for a given path at a time; a second Listen on the same path fails.
func Listen(path string) (Listener, error) {
	return listen(path)
}

// Split divides a Stream into independent read and write halves. The
// underlying connection is closed once via the original Stream's Close;
// the halves themselves do not need to be closed.
func Split(s Stream) (ReadHalf, WriteHalf) {
	return s, s
}

// netListener adapts a net.Listener, whose Accept returns a net.Conn, to
// the Listener interface, whose Accept returns our narrower Stream.
type netListener struct {
	inner net.Listener
}

func (l *netListener) Accept() (Stream, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (l *netListener) Close() error {
	return l.inner.Close()
}
