package sshutil

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/perchlabs/perch/internal/errors"
	"github.com/perchlabs/perch/internal/util"
	"golang.org/x/crypto/ssh"
)

// TimeoutExitCode is the synthetic exit code reported when a remote
// command exceeds its read timeout, mirroring the shell convention
// used by timeout(1).
const TimeoutExitCode = 124

// timeoutStderr is the synthetic stderr reported on command timeout.
const timeoutStderr = "command timeout"

// Result holds the outcome of one remote command. A non-zero exit code
// is a normal outcome here, never an error: callers decide what a
// failing probe means.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stderr if non-empty, else stdout, both trimmed.
// Useful for building a best-effort diagnostic out of whatever the
// command said before failing.
func (r Result) Combined() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// RunOpts control how a remote command is executed.
type RunOpts struct {
	// LoginShell wraps the command in `bash -lc` so profile files are
	// sourced. Needed for PATH-managed runtimes like nvm-installed node.
	LoginShell bool

	// PTY allocates a pseudo-terminal with echo disabled. Some sudo
	// configurations refuse to prompt without one.
	PTY bool

	// Stdin is written to the command's standard input when non-empty.
	Stdin string

	// Timeout bounds the wait for command completion. A timeout yields
	// the synthetic timeout Result rather than an error or an
	// indefinitely blocked call. Zero means wait forever.
	Timeout time.Duration
}

// Run executes a command on the remote host.
//
// Only transport/session failures return an error; a command that ran
// and exited non-zero returns a Result with that exit code and a nil
// error. On timeout the session is torn down and the synthetic timeout
// Result is returned.
func (c *Client) Run(cmd string, opts RunOpts) (Result, error) {
	if opts.LoginShell {
		cmd = "bash -lc " + util.ShellQuote(cmd)
	}

	session, err := c.Client.NewSession()
	if err != nil {
		return Result{}, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	if opts.PTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty("xterm", 80, 40, modes); err != nil {
			return Result{}, errors.WrapWithCode(err, errors.ErrSSH,
				"Failed to allocate PTY",
				"The remote host may not support pseudo-terminals.")
		}
	}

	if opts.Stdin != "" {
		session.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(cmd)
	}()

	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-timeoutCh:
		// Closing the session unblocks the remote side; the goroutine's
		// eventual result is discarded along with its buffers.
		_ = session.Close()
		return Result{Stdout: "", Stderr: timeoutStderr, ExitCode: TimeoutExitCode}, nil
	case err := <-runErr:
		exitCode := 0
		if err != nil {
			exitErr, ok := err.(*ssh.ExitError)
			if !ok {
				return Result{}, errors.WrapWithCode(err, errors.ErrExec,
					fmt.Sprintf("Failed to execute command: %s", cmd),
					"Check if the command exists on the remote host.")
			}
			exitCode = exitErr.ExitStatus()
		}
		return Result{
			Stdout:   stdoutBuf.String(),
			Stderr:   stderrBuf.String(),
			ExitCode: exitCode,
		}, nil
	}
}

// RunSudo executes a command as another user via sudo, feeding the
// password on stdin. Echo is disabled around the sudo invocation and
// the password is scrubbed from both output streams before they are
// returned, so escalated output never leaks the credential.
func (c *Client) RunSudo(cmd, user, password string, opts RunOpts) (Result, error) {
	if opts.LoginShell {
		cmd = "bash -lc " + util.ShellQuote(cmd)
	}

	inner := fmt.Sprintf("sudo -S -p '' -u %s /bin/sh -c %s",
		util.ShellQuote(user), util.ShellQuote(cmd))
	wrapped := "stty -echo >/dev/null 2>&1 || true; " +
		inner + "; " +
		"status=$?; " +
		"stty echo >/dev/null 2>&1 || true; " +
		"exit $status"

	result, err := c.Run(wrapped, RunOpts{
		PTY:     true,
		Stdin:   password + "\n",
		Timeout: opts.Timeout,
	})
	if err != nil {
		return Result{}, err
	}

	result.Stdout = Redact(result.Stdout, password)
	result.Stderr = Redact(result.Stderr, password)
	return result, nil
}
