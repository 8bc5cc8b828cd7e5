//go:build linux || darwin

package supervise

import (
	"fmt"
	"os"
	"strconv"

	"github.com/axondata/go-supervise/internal/unix"
)

// acquireLock takes the unit's single-instance lock. The lock is advisory
// (flock), held for the daemon's lifetime, and released by the kernel if the
// daemon dies, so stale locks cannot occur.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd())); err != nil {
		_ = f.Close()
		return nil, &OpError{Op: OpUnknown, Path: path, Err: ErrAlreadySupervised}
	}

	// Record our PID for operators inspecting the tree by hand
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return f, nil
}

// releaseLock drops the lock and closes the file
func releaseLock(f *os.File) {
	_ = unix.Funlock(int(f.Fd()))
	_ = f.Close()
}
