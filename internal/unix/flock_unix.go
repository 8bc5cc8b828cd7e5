//go:build linux || darwin

package unix

import "syscall"

// Flock places an exclusive, non-blocking advisory lock on fd.
// It returns syscall.EWOULDBLOCK if another process holds the lock.
func Flock(fd int) error {
	return syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
}

// Funlock releases an advisory lock held on fd.
func Funlock(fd int) error {
	return syscall.Flock(fd, syscall.LOCK_UN)
}
