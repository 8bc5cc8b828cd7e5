//go:build linux || darwin

package supervise

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdaterNoCommand(t *testing.T) {
	base := t.TempDir()
	b := NewUnitBuilder("bot", base).WithCmd([]string{"/usr/bin/bot"})
	require.NoError(t, b.Build())

	updater, err := NewUpdater(filepath.Join(base, "bot"))
	require.NoError(t, err)

	err = updater.Run(context.Background())
	assert.True(t, errors.Is(err, ErrNoUpdateCommand), "err = %v", err)
}

func TestUpdaterCommandFailure(t *testing.T) {
	base := t.TempDir()
	b := NewUnitBuilder("bot", base).
		WithCmd([]string{"/usr/bin/bot"}).
		WithUpdateCmd([]string{"/bin/sh", "-c", "echo fetch refused >&2; exit 1"})
	require.NoError(t, b.Build())

	updater, err := NewUpdater(filepath.Join(base, "bot"))
	require.NoError(t, err)

	err = updater.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch refused", "command output belongs in the error")
}

func TestUpdaterRunsInWorkingDir(t *testing.T) {
	base := t.TempDir()
	workDir := filepath.Join(base, "checkout")
	require.NoError(t, os.MkdirAll(workDir, 0o755))

	marker := filepath.Join(base, "cwd.txt")
	b := NewUnitBuilder("bot", base).
		WithCmd([]string{"/usr/bin/bot"}).
		WithCwd(workDir).
		WithUpdateCmd([]string{"/bin/sh", "-c", "pwd > " + marker})
	require.NoError(t, b.Build())

	updater, err := NewUpdater(filepath.Join(base, "bot"))
	require.NoError(t, err)

	// The unit is not supervised, so the restart half fails; the update
	// command itself must still have run in the unit's working directory.
	err = updater.Run(context.Background())
	assert.True(t, errors.Is(err, ErrNotSupervised), "err = %v", err)

	out, err := os.ReadFile(marker)
	require.NoError(t, err)
	got := strings.TrimSpace(string(out))
	resolved, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	assert.Contains(t, []string{workDir, resolved}, got)
}
