//go:build !windows

package procutil

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// KillTree kills pid and its immediate children. It enumerates children with
// "pgrep -P pid" and issues "kill" concurrently against the parent and each
// child; failures are collected but never abort the other kills (a child
// that already exited is not an error worth surfacing). Only one level of
// descendants is enumerated -- grandchildren inherit their parent's death or
// are outside this helper's concern.
func KillTree(ctx context.Context, pid int) error {
	children, err := listChildren(ctx, pid)
	if err != nil {
		dlog.Debugf(ctx, "kill_tree: could not enumerate children of %d: %v", pid, err)
	}

	var (
		mu      sync.Mutex
		errs    *multierror.Error
		g, gctx = errgroup.WithContext(ctx)
	)
	record := func(pid int, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	g.Go(func() error {
		record(pid, killPid(gctx, pid))
		return nil
	})
	for _, c := range children {
		c := c
		g.Go(func() error {
			record(c, killPid(gctx, c))
			return nil
		})
	}
	_ = g.Wait()

	// Best-effort per spec.md §4.2: individual kill failures (process
	// already gone, no permission) are logged, not surfaced.
	if errs != nil {
		dlog.Debugf(ctx, "kill_tree: some kills failed: %v", errs)
	}
	return nil
}

func listChildren(ctx context.Context, pid int) ([]int, error) {
	out, err := dexec.CommandContext(ctx, "pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		// pgrep exits 1 when there are no matching processes; that is not
		// a failure worth reporting.
		return nil, nil
	}

	var children []int
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, convErr := strconv.Atoi(line)
		if convErr != nil {
			continue
		}
		children = append(children, n)
	}
	return children, nil
}

func killPid(ctx context.Context, pid int) error {
	return dexec.CommandContext(ctx, "kill", strconv.Itoa(pid)).Run()
}
