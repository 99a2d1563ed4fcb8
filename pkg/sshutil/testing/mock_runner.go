// Package testing provides test doubles for SSH command execution.
package testing

import (
	"fmt"
	"strings"
	"sync"

	"github.com/perchlabs/perch/pkg/sshutil"
)

// Call records one command executed against the mock.
type Call struct {
	Cmd      string
	Opts     sshutil.RunOpts
	Sudo     bool
	SudoUser string
	Password string
}

// MockRunner simulates remote command execution for collector and pool
// tests. Commands are matched against registered substring patterns in
// registration order; unmatched commands report exit code 127 like a
// shell that can't find the binary.
type MockRunner struct {
	mu       sync.Mutex
	patterns []string
	results  map[string]sshutil.Result
	errs     map[string]error
	handlers map[string]func(Call) (sshutil.Result, error)
	calls    []Call
}

// NewMockRunner creates an empty mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		results:  make(map[string]sshutil.Result),
		errs:     make(map[string]error),
		handlers: make(map[string]func(Call) (sshutil.Result, error)),
	}
}

// On registers a canned result for commands containing pattern.
func (m *MockRunner) On(pattern string, result sshutil.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(pattern)
	m.results[pattern] = result
	delete(m.errs, pattern)
	delete(m.handlers, pattern)
}

// OnError registers a transport-level error for commands containing pattern.
func (m *MockRunner) OnError(pattern string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(pattern)
	m.errs[pattern] = err
	delete(m.results, pattern)
	delete(m.handlers, pattern)
}

// OnFunc registers a handler for commands containing pattern, for
// responses that depend on the call (for example sudo vs plain runs).
func (m *MockRunner) OnFunc(pattern string, handler func(Call) (sshutil.Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(pattern)
	m.handlers[pattern] = handler
	delete(m.results, pattern)
	delete(m.errs, pattern)
}

func (m *MockRunner) track(pattern string) {
	if _, ok := m.results[pattern]; ok {
		return
	}
	if _, ok := m.errs[pattern]; ok {
		return
	}
	if _, ok := m.handlers[pattern]; ok {
		return
	}
	m.patterns = append(m.patterns, pattern)
}

// Calls returns a copy of every command executed so far.
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsMatching returns the recorded calls whose command contains pattern.
func (m *MockRunner) CallsMatching(pattern string) []Call {
	var out []Call
	for _, call := range m.Calls() {
		if strings.Contains(call.Cmd, pattern) {
			out = append(out, call)
		}
	}
	return out
}

// Run implements sshutil.Runner.
func (m *MockRunner) Run(cmd string, opts sshutil.RunOpts) (sshutil.Result, error) {
	return m.dispatch(Call{Cmd: cmd, Opts: opts})
}

// RunSudo implements sshutil.Runner.
func (m *MockRunner) RunSudo(cmd, user, password string, opts sshutil.RunOpts) (sshutil.Result, error) {
	return m.dispatch(Call{Cmd: cmd, Opts: opts, Sudo: true, SudoUser: user, Password: password})
}

func (m *MockRunner) dispatch(call Call) (sshutil.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)

	for _, pattern := range m.patterns {
		if !strings.Contains(call.Cmd, pattern) {
			continue
		}
		if handler, ok := m.handlers[pattern]; ok {
			return handler(call)
		}
		if err, ok := m.errs[pattern]; ok && err != nil {
			return sshutil.Result{}, err
		}
		return m.results[pattern], nil
	}
	return sshutil.Result{
		Stderr:   fmt.Sprintf("sh: %s: command not found", call.Cmd),
		ExitCode: 127,
	}, nil
}

var _ sshutil.Runner = (*MockRunner)(nil)

// Ok builds a successful result carrying the given stdout.
func Ok(stdout string) sshutil.Result {
	return sshutil.Result{Stdout: stdout}
}

// Fail builds a failed result with the given exit code and stderr.
func Fail(exitCode int, stderr string) sshutil.Result {
	return sshutil.Result{Stderr: stderr, ExitCode: exitCode}
}

// Result builds an arbitrary command result.
func Result(stdout, stderr string, exitCode int) sshutil.Result {
	return sshutil.Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
}
