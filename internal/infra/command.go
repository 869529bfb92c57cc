package infra

import (
	"errors"
	"os"
	"os/exec"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete
func (r *RealCommandRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Output executes a command and returns its stdout
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// LookPath resolves name on PATH
func (r *RealCommandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Child is a started process. Once it has exited and been reaped, Kill does
// nothing, so a recycled PID is never signalled.
type Child interface {
	Pid() int
	Exited() bool
	Kill() error
}

// ProcessStarter starts a process without waiting for it.
type ProcessStarter interface {
	Start(name string, args ...string) (Child, error)
}

// RealProcessStarter starts detached child processes and reaps them in the
// background so they never linger as zombies.
type RealProcessStarter struct{}

// Start launches name in its own session.
func (r *RealProcessStarter) Start(name string, args ...string) (Child, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = detachedAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &execChild{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

// execChild tracks a child started by RealProcessStarter.
type execChild struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (c *execChild) Pid() int {
	return c.cmd.Process.Pid
}

// Exited reports whether the child has been reaped.
func (c *execChild) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Kill signals through the os.Process handle, which refuses once Wait has
// returned (and uses a pidfd where the OS has one).
func (c *execChild) Kill() error {
	if c.Exited() {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// FileChecker abstracts file system checks for testing
type FileChecker interface {
	Exists(path string) bool
}

// RealFileChecker checks real filesystem
type RealFileChecker struct{}

// Exists checks if a file/directory exists
func (r *RealFileChecker) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
