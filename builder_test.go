package supervise

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitBuilderBuild(t *testing.T) {
	base := t.TempDir()

	b := NewUnitBuilder("tgbot", base).
		WithCmd([]string{"python3", "bot.py"}).
		WithCwd("/opt/tgbot").
		WithEnv("TOKEN", "secret").
		WithEnv("DEBUG", "1").
		WithRestart(RestartAlways).
		WithRestartDelay(5 * time.Second).
		WithUmask("027").
		WithUpdateCmd([]string{"git", "pull"}).
		WithLog(func(lc *LogConfig) {
			lc.MaxSizeMB = 50
			lc.Compress = true
		})

	require.NoError(t, b.Build())

	unitDir := filepath.Join(base, "tgbot")

	u, err := LoadUnit(unitDir)
	require.NoError(t, err)
	assert.Equal(t, "tgbot", u.Name)
	assert.Equal(t, []string{"python3", "bot.py"}, u.Command)
	assert.Equal(t, "/opt/tgbot", u.WorkingDir)
	assert.Equal(t, RestartAlways, u.Restart)
	assert.Equal(t, 5*time.Second, u.RestartDelay)
	assert.Equal(t, "027", u.Umask)
	assert.Equal(t, []string{"git", "pull"}, u.UpdateCommand)
	assert.Equal(t, 50, u.Log.MaxSizeMB)
	assert.True(t, u.Log.Compress)

	token, err := os.ReadFile(filepath.Join(unitDir, EnvDir, "TOKEN"))
	require.NoError(t, err)
	assert.Equal(t, "secret", string(token))

	info, err := os.Stat(filepath.Join(unitDir, LogDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.True(t, Enabled(unitDir), "no down file unless requested")
}

func TestUnitBuilderDown(t *testing.T) {
	base := t.TempDir()

	b := NewUnitBuilder("bot", base).
		WithCmd([]string{"/usr/bin/bot"}).
		WithDown()
	require.NoError(t, b.Build())

	unitDir := filepath.Join(base, "bot")
	assert.False(t, Enabled(unitDir))
}

func TestUnitBuilderErrors(t *testing.T) {
	t.Run("missing command", func(t *testing.T) {
		b := NewUnitBuilder("bot", t.TempDir())
		assert.Error(t, b.Build())
	})

	t.Run("missing dir", func(t *testing.T) {
		b := NewUnitBuilder("bot", "").WithCmd([]string{"/usr/bin/bot"})
		assert.Error(t, b.Build())
	})
}

func TestUnitBuilderRebuild(t *testing.T) {
	base := t.TempDir()

	b := NewUnitBuilder("bot", base).WithCmd([]string{"/usr/bin/bot"})
	require.NoError(t, b.Build())

	// Building again replaces the definition in place
	b.WithCmd([]string{"/usr/bin/bot", "--verbose"})
	require.NoError(t, b.Build())

	u, err := LoadUnit(filepath.Join(base, "bot"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/bot", "--verbose"}, u.Command)
}
