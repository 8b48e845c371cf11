// Package procutil runs child processes and reports on their outcome,
// mirroring the capture/check-status/kill-tree trio the launcher needs to
// manage the code-server subprocess it supervises.
package procutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/datawire/dlib/dexec"
)

// Output is the captured result of running a command to completion.
type Output struct {
	Stdout []byte
	Stderr []byte
	Status int
}

// CommandFailed is returned by CheckStatus when a command exits non-zero.
// Output is the process's stderr if non-empty, else its stdout, decoded
// lossily as UTF-8.
type CommandFailed struct {
	Command string
	Code    int
	Output  string
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.Code, e.Output)
}

// Capture runs cmd with args, stdin closed, and stdout/stderr captured. It
// inherits the current process's environment, like dexec.Cmd does by
// default.
func Capture(ctx context.Context, name string, args ...string) (*Output, error) {
	cmd := dexec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		out.Status = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return nil, &CommandFailed{
			Command: renderCommand(name, args),
			Code:    -1,
			Output:  err.Error(),
		}
	}
	return out, nil
}

// CheckStatus returns out if its process exited zero, else a CommandFailed
// describing the failure.
func CheckStatus(out *Output, renderCmd func() string) (*Output, error) {
	if out.Status == 0 {
		return out, nil
	}
	body := out.Stderr
	if len(body) == 0 {
		body = out.Stdout
	}
	return nil, &CommandFailed{
		Command: renderCmd(),
		Code:    out.Status,
		Output:  strings.ToValidUTF8(string(body), "�"),
	}
}

// CaptureAndCheck runs Capture then CheckStatus in one step, the common case.
func CaptureAndCheck(ctx context.Context, name string, args ...string) (*Output, error) {
	out, err := Capture(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return CheckStatus(out, func() string { return renderCommand(name, args) })
}

func renderCommand(name string, args []string) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
}
