package supervise

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "current")
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, ch <-chan TailLine, n int, timeout time.Duration) []string {
	t.Helper()
	var got []string
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case line, ok := <-ch:
			if !ok {
				return got
			}
			require.NoError(t, line.Err)
			got = append(got, line.Text)
		case <-deadline:
			t.Fatalf("timed out after %d/%d lines", len(got), n)
		}
	}
	return got
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"empty", "", nil},
		{"single line", "one\n", []string{"one"}},
		{"no trailing newline", "one\ntwo", []string{"one", "two"}},
		{"blank line kept", "one\n\ntwo\n", []string{"one", "", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitLines([]byte(tt.data)))
		})
	}
}

func TestLastLines(t *testing.T) {
	path := writeLogFile(t, "one", "two", "three", "four")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	t.Run("fewer than available", func(t *testing.T) {
		lines, offset, err := lastLines(f, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"three", "four"}, lines)
		info, _ := f.Stat()
		assert.Equal(t, info.Size(), offset)
	})

	t.Run("more than available", func(t *testing.T) {
		lines, _, err := lastLines(f, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three", "four"}, lines)
	})

	t.Run("zero lines", func(t *testing.T) {
		lines, _, err := lastLines(f, 0)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}

func TestLastLinesLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current")
	f, err := os.Create(path)
	require.NoError(t, err)
	// Spill over the chunked backwards read
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(f, "log line number %d with some padding text\n", i)
	}
	require.NoError(t, f.Close())

	r, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	lines, _, err := lastLines(r, 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "log line number 4999 with some padding text", lines[2])
}

func TestTailerNoFollow(t *testing.T) {
	path := writeLogFile(t, "one", "two", "three")
	tailer := &Tailer{Path: path, Lines: 2}

	ch, cleanup, err := tailer.Run(context.Background())
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	got := collect(t, ch, 2, 2*time.Second)
	assert.Equal(t, []string{"two", "three"}, got)

	_, open := <-ch
	assert.False(t, open, "channel closes after the initial lines")
}

func TestTailerFollow(t *testing.T) {
	path := writeLogFile(t, "old")
	tailer := &Tailer{Path: path, Lines: 10, Follow: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup, err := tailer.Run(ctx)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	got := collect(t, ch, 1, 2*time.Second)
	assert.Equal(t, []string{"old"}, got)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("appended one\nappended two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got = collect(t, ch, 2, 5*time.Second)
	assert.Equal(t, []string{"appended one", "appended two"}, got)
}

func TestTailerFollowRotation(t *testing.T) {
	path := writeLogFile(t, "before rotation")
	tailer := &Tailer{Path: path, Lines: 10, Follow: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup, err := tailer.Run(ctx)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	collect(t, ch, 1, 2*time.Second)

	// Rotate: rename the current file away and write a fresh one
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, os.WriteFile(path, []byte("after rotation\n"), 0o644))

	got := collect(t, ch, 1, 5*time.Second)
	assert.Equal(t, []string{"after rotation"}, got)
}

func TestTailerMissingFile(t *testing.T) {
	tailer := &Tailer{Path: filepath.Join(t.TempDir(), "missing"), Lines: 10}
	_, _, err := tailer.Run(context.Background())
	assert.Error(t, err)
}

func TestNewTailerFromUnit(t *testing.T) {
	base := t.TempDir()
	b := NewUnitBuilder("bot", base).WithCmd([]string{"/usr/bin/bot"})
	require.NoError(t, b.Build())
	unitDir := filepath.Join(base, "bot")

	tailer, err := NewTailer(unitDir, 20, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(unitDir, LogDir, LogCurrentFile), tailer.Path)
	assert.Equal(t, 20, tailer.Lines)
	assert.False(t, tailer.Follow)
}
