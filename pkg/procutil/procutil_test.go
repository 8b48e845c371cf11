package procutil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/tunnel-launcher/pkg/procutil"
)

func TestCaptureAndCheckSuccess(t *testing.T) {
	out, err := procutil.CaptureAndCheck(context.Background(), "true")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Status)
}

func TestCaptureAndCheckFailurePrefersStderr(t *testing.T) {
	_, err := procutil.CaptureAndCheck(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	require.Error(t, err)

	var cf *procutil.CommandFailed
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, 3, cf.Code)
	assert.Contains(t, cf.Output, "err")
}

func TestKillTreeIsBestEffortOnMissingProcess(t *testing.T) {
	err := procutil.KillTree(context.Background(), 999999)
	assert.NoError(t, err)
}
