package dtunnel

import "fmt"

// InvalidTunnelName is returned when a candidate name fails length or
// charset validation. The message is meant to be shown to the user as-is.
type InvalidTunnelName struct {
	Msg string
}

func (e *InvalidTunnelName) Error() string { return e.Msg }

// TunnelCreationFailed is returned when CreateTunnel fails after any
// recycle attempt.
type TunnelCreationFailed struct {
	Name  string
	Cause string
}

func (e *TunnelCreationFailed) Error() string {
	return fmt.Sprintf("failed to create tunnel %q: %s", e.Name, e.Cause)
}

// DevTunnelError is a generic tunnel-lifecycle error, such as the
// supervisor being cancelled before it ever produced an endpoint.
type DevTunnelError struct {
	Msg string
}

func (e *DevTunnelError) Error() string { return e.Msg }
