package supervise

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// tailChunkSize is the read granularity when scanning a file backwards
// for the last N lines
const tailChunkSize = 8192

// tailPollInterval backs up fsnotify in case events are dropped or the
// filesystem does not deliver them
const tailPollInterval = time.Second

// TailLine is one log line delivered by a Tailer
type TailLine struct {
	Text string
	Err  error
}

// Tailer follows a unit's log file: it emits the last N lines and then,
// in follow mode, every appended line. Rotation is handled by reopening
// the file when it is renamed, removed, or truncated.
type Tailer struct {
	// Path is the log file to read
	Path string

	// Lines is the number of trailing lines emitted initially
	Lines int

	// Follow keeps the tail open, emitting lines as they are appended
	Follow bool
}

// NewTailer returns a Tailer for the unit directory's log file as configured
// in its unit definition.
func NewTailer(unitDir string, lines int, follow bool) (*Tailer, error) {
	u, err := LoadUnit(unitDir)
	if err != nil {
		return nil, err
	}
	return &Tailer{Path: u.Log.Path, Lines: lines, Follow: follow}, nil
}

// Run emits log lines until the context is cancelled (follow mode) or the
// initial lines are exhausted. The returned channel is closed when the tail
// stops; the cleanup function releases the watcher.
func (t *Tailer) Run(ctx context.Context) (<-chan TailLine, WatchCleanupFunc, error) {
	file, err := os.Open(t.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	last, offset, err := lastLines(file, t.Lines)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	ch := make(chan TailLine, 64)

	if !t.Follow {
		_ = file.Close()
		go func() {
			defer close(ch)
			for _, line := range last {
				select {
				case ch <- TailLine{Text: line}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, func() error { return nil }, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: rotation replaces the file, so watching the
	// file itself would go stale after the first rename
	if err := watcher.Add(filepath.Dir(t.Path)); err != nil {
		_ = watcher.Close()
		_ = file.Close()
		return nil, nil, fmt.Errorf("watching log dir: %w", err)
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		_ = file.Close()
		close(ch)
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	sctx.Go(func(sctx *stopper.Context) error {
		emit := func(line string) bool {
			select {
			case ch <- TailLine{Text: line}:
				return true
			case <-sctx.Stopping():
				return false
			}
		}

		for _, line := range last {
			if !emit(line) {
				return nil
			}
		}

		var carry []byte
		ticker := time.NewTicker(tailPollInterval)
		defer ticker.Stop()

		for {
			var stop bool
			file, offset, carry, stop = t.drain(sctx, ch, file, offset, carry, emit)
			if stop {
				return nil
			}

			select {
			case <-sctx.Stopping():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Name != t.Path {
					continue
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					if !emitErr(sctx, ch, err) {
						return nil
					}
				}
			case <-ticker.C:
			}
		}
	})

	return ch, cleanup, nil
}

// drain reads everything appended since offset, reopening the file after
// rotation or truncation. It returns the (possibly new) file handle, the
// new offset, any trailing partial line, and whether the tail should stop.
func (t *Tailer) drain(
	sctx *stopper.Context,
	ch chan<- TailLine,
	file *os.File,
	offset int64,
	carry []byte,
	emit func(string) bool,
) (*os.File, int64, []byte, bool) {
	info, err := os.Stat(t.Path)
	if err != nil {
		// Mid-rotation; keep the old handle and try again on the next event
		return file, offset, carry, false
	}

	current, statErr := file.Stat()
	rotated := statErr != nil || !os.SameFile(info, current) || info.Size() < offset
	if rotated {
		if reopened, err := os.Open(t.Path); err == nil {
			_ = file.Close()
			file = reopened
			offset = 0
			carry = nil
		}
	}

	for {
		buf := make([]byte, tailChunkSize)
		n, err := file.ReadAt(buf, offset)
		if n > 0 {
			offset += int64(n)
			carry = append(carry, buf[:n]...)
			for {
				idx := bytes.IndexByte(carry, '\n')
				if idx < 0 {
					break
				}
				if !emit(string(carry[:idx])) {
					return file, offset, carry, true
				}
				carry = carry[idx+1:]
			}
		}
		if err == io.EOF {
			return file, offset, carry, false
		}
		if err != nil {
			if !emitErr(sctx, ch, err) {
				return file, offset, carry, true
			}
			return file, offset, carry, false
		}
	}
}

// emitErr forwards a tail error unless the tail is stopping
func emitErr(sctx *stopper.Context, ch chan<- TailLine, err error) bool {
	select {
	case ch <- TailLine{Err: err}:
		return true
	case <-sctx.Stopping():
		return false
	}
}

// lastLines returns up to n trailing lines of f and the offset of the end
// of the file at read time
func lastLines(f *os.File, n int) ([]string, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if n <= 0 || size == 0 {
		return nil, size, nil
	}

	var data []byte
	offset := size
	for offset > 0 && bytes.Count(data, []byte{'\n'}) <= n {
		chunk := int64(tailChunkSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk

		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("reading log file: %w", err)
		}
		data = append(buf, data...)
	}

	lines := splitLines(data)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, size, nil
}

// splitLines splits on newlines, dropping a trailing empty fragment
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{'\n'})
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}
