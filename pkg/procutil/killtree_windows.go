//go:build windows

package procutil

import (
	"context"
	"strconv"
)

// KillTree kills pid and its full process tree via taskkill, matching the
// original's "/t" (tree) flag.
func KillTree(ctx context.Context, pid int) error {
	_, err := CaptureAndCheck(ctx, "taskkill", "/t", "/pid", strconv.Itoa(pid))
	return err
}
