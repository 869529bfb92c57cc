package infra

import (
	"errors"
	"strings"
	"sync"
)

// mockCommandRunner records commands and answers from canned tables
// keyed by "name arg1 arg2 ...".
type mockCommandRunner struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	outputs  map[string][]byte
	lookPath map[string]bool
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		fail:     make(map[string]error),
		outputs:  make(map[string][]byte),
		lookPath: make(map[string]bool),
	}
}

func commandKey(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (m *mockCommandRunner) record(name string, args []string) string {
	key := commandKey(name, args...)
	m.mu.Lock()
	m.calls = append(m.calls, key)
	m.mu.Unlock()
	return key
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	key := m.record(name, args)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail[key]
}

func (m *mockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	key := m.record(name, args)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[key]; err != nil {
		return nil, err
	}
	return m.outputs[key], nil
}

func (m *mockCommandRunner) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookPath[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

func (m *mockCommandRunner) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockChild is a test double for Child
type mockChild struct {
	mu      sync.Mutex
	pid     int
	exited  bool
	kills   int
	killErr error
}

func (c *mockChild) Pid() int { return c.pid }

func (c *mockChild) Exited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

func (c *mockChild) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kills++
	return c.killErr
}

func (c *mockChild) exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
}

func (c *mockChild) killCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kills
}

// mockStarter is a test double for ProcessStarter
type mockStarter struct {
	mu       sync.Mutex
	started  []string
	children []*mockChild
	nextPID  int
	fail     map[string]error // keyed by command name
}

func newMockStarter() *mockStarter {
	return &mockStarter{nextPID: 1000, fail: make(map[string]error)}
}

func (m *mockStarter) Start(name string, args ...string) (Child, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, commandKey(name, args...))
	if err := m.fail[name]; err != nil {
		return nil, err
	}
	m.nextPID++
	c := &mockChild{pid: m.nextPID}
	m.children = append(m.children, c)
	return c, nil
}

func (m *mockStarter) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

func (m *mockStarter) child(i int) *mockChild {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.children[i]
}
