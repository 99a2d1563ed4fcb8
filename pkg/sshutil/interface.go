package sshutil

// Runner is the command-execution surface the stats collector works
// against. The real Client satisfies it; tests substitute a mock that
// serves canned output per command pattern.
type Runner interface {
	// Run executes a command. Non-zero exit codes are normal results;
	// only transport failures return an error.
	Run(cmd string, opts RunOpts) (Result, error)

	// RunSudo executes a command as another user via sudo, with the
	// password redacted from the returned output.
	RunSudo(cmd, user, password string, opts RunOpts) (Result, error)
}

var _ Runner = (*Client)(nil)
