//go:build !windows

package infra

import "syscall"

// detachedAttr starts the child in a new session so it survives the host.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
