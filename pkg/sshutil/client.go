package sshutil

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/perchlabs/perch/internal/errors"
	"golang.org/x/crypto/ssh"
)

// keepAliveRequest is the global request name used for liveness probes.
// OpenSSH ignores unknown request types, so this is safe against any server.
const keepAliveRequest = "keepalive@perch.dev"

// Options describe how to reach and authenticate against one remote host.
// Authentication uses the password and/or key file given here and nothing
// else: the SSH agent and default key locations are never consulted, since
// fleet hosts carry explicit credentials in the registry.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string // optional password auth
	KeyPath  string // optional private key file

	// Timeout bounds the TCP connect and SSH handshake.
	Timeout time.Duration

	// KeepAlive is the period between transport-level keepalive probes
	// after connecting. Zero disables the keepalive goroutine.
	KeepAlive time.Duration
}

// Client wraps an authenticated SSH connection with liveness plumbing.
type Client struct {
	*ssh.Client
	Address string // resolved host:port

	closeOnce sync.Once
	done      chan struct{}
}

// Dial establishes an SSH connection using the supplied options.
// Host keys are accepted without verification: the fleet is registered
// explicitly by an operator, matching the behavior fleet hosts were
// provisioned under.
func Dial(opts Options) (*Client, error) {
	if opts.Host == "" {
		return nil, errors.New(errors.ErrSSH,
			"No host to connect to",
			"Provide a hostname or IP address.")
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}
	user := opts.User
	if user == "" {
		user = "root"
	}

	auth, err := buildAuthMethods(opts)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // Fleet hosts are explicitly registered
		Timeout:         opts.Timeout,
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(port))
	conn, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't connect to %s@%s", user, address),
			suggestionForDialError(err))
	}

	client := &Client{
		Client:  conn,
		Address: address,
		done:    make(chan struct{}),
	}

	if opts.KeepAlive > 0 {
		go client.keepAliveLoop(opts.KeepAlive)
	}

	return client, nil
}

// buildAuthMethods assembles the auth chain from explicit credentials only.
func buildAuthMethods(opts Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if opts.KeyPath != "" {
		key, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Can't read private key %s", opts.KeyPath),
				"Check the key file exists and is readable.")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Can't parse private key %s", opts.KeyPath),
				"Encrypted keys are not supported; provide an unencrypted key file.")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
		// Some sshd setups only expose keyboard-interactive for passwords.
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = opts.Password
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, errors.New(errors.ErrSSH,
			"No SSH auth methods available",
			"Configure a password or a private key file for this server.")
	}

	return methods, nil
}

// keepAliveLoop sends periodic transport-level requests until Close.
func (c *Client) keepAliveLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, _, err := c.Client.SendRequest(keepAliveRequest, true, nil); err != nil {
				return
			}
		}
	}
}

// IsActive reports whether the underlying transport still answers.
// A keepalive round-trip is much cheaper than opening a session
// (~100-200ms saved per liveness check).
func (c *Client) IsActive() bool {
	if c == nil || c.Client == nil {
		return false
	}
	_, _, err := c.Client.SendRequest(keepAliveRequest, true, nil)
	return err == nil
}

// Close shuts down the keepalive loop and the SSH connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
	})
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Is SSH running on that box? Try: ssh <host>"
	case strings.Contains(errStr, "no route to host"), strings.Contains(errStr, "network is unreachable"):
		return "Can't route to the host. Check your network connection."
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "i/o timeout"):
		return "Connection timed out. Host might be offline or blocked by a firewall."
	case strings.Contains(errStr, "unable to authenticate"), strings.Contains(errStr, "no supported methods"):
		return "Auth failed. Check the server's password or key file in the registry."
	}
	return "Make sure the host is reachable: ping <host>"
}
