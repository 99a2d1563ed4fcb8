// Package provision installs the watcher's public key onto monitored
// hosts so stats collection can authenticate without the operator's
// password.
package provision

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/perchlabs/perch/internal/errors"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/registry"
	"github.com/perchlabs/perch/internal/util"
	"github.com/perchlabs/perch/pkg/sshutil"
)

// runner is the connection slice provisioning needs.
type runner interface {
	sshutil.Runner
	Close() error
}

// Provisioner connects with a login credential and installs the
// watcher key into root's authorized_keys.
type Provisioner struct {
	timeout time.Duration
	log     logger.Logger

	dial func(opts sshutil.Options) (runner, error)
}

// New creates a provisioner with the given connect/command timeout.
func New(timeout time.Duration, log logger.Logger) *Provisioner {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Provisioner{
		timeout: timeout,
		log:     log,
		dial: func(opts sshutil.Options) (runner, error) {
			return sshutil.Dial(opts)
		},
	}
}

// installScript builds the idempotent authorized_keys install. The key
// travels base64-encoded so no quoting in the line itself can escape
// the script, and the final grep verifies the append actually landed.
func installScript(pubKey string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(pubKey))
	return fmt.Sprintf(`umask 077
mkdir -p /root/.ssh
touch /root/.ssh/authorized_keys
key="$(printf '%%s' %s | base64 -d)"
grep -qxF "$key" /root/.ssh/authorized_keys || printf '%%s\n' "$key" >> /root/.ssh/authorized_keys
grep -qxF "$key" /root/.ssh/authorized_keys`, util.ShellQuote(encoded))
}

// InstallKey connects to the server with its login password and makes
// sure pubKey is present in root's authorized_keys. Root logins run
// the script directly; anything else escalates.
func (p *Provisioner) InstallKey(server registry.Server, password, pubKey string) error {
	endpoint := sshutil.ResolveEndpoint(server.Host, server.Port, server.User)
	conn, err := p.dial(sshutil.Options{
		Host:     endpoint.Host,
		Port:     endpoint.Port,
		User:     endpoint.User,
		Password: password,
		Timeout:  p.timeout,
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision,
			fmt.Sprintf("could not connect to %s for provisioning", server.DisplayName()),
			"verify the host address and login password")
	}
	defer conn.Close()

	script := installScript(pubKey)
	opts := sshutil.RunOpts{LoginShell: true, Timeout: p.timeout}

	var result sshutil.Result
	if endpoint.User == "root" {
		result, err = conn.Run(script, opts)
	} else {
		result, err = conn.RunSudo(script, "root", password, opts)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision,
			fmt.Sprintf("key install failed on %s", server.DisplayName()), "")
	}
	if result.ExitCode != 0 {
		return errors.New(errors.ErrProvision,
			fmt.Sprintf("key install failed on %s: %s", server.DisplayName(), result.Combined()),
			"check that the login user can sudo to root")
	}

	p.log.Debug("provisioned watcher key on %s", server.DisplayName())
	return nil
}
