//go:build !windows

package infra

import (
	"os"
	"syscall"
)

// lockExclusive takes an advisory exclusive lock on f.
func lockExclusive(f *os.File) (func(), error) {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return nil, err
	}
	return func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }, nil
}
