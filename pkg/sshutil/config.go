package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Endpoint is a fully resolved connection target.
type Endpoint struct {
	Host string
	Port int
	User string
}

// ResolveEndpoint fills blank or zero fields from the user's OpenSSH
// client configuration (HostName, Port, User only — identities are
// deliberately not read, since fleet credentials live in the registry),
// then falls back to port 22 and user root.
func ResolveEndpoint(host string, port int, user string) Endpoint {
	resolved := resolveFromConfig(defaultSSHConfigPath(), host)

	if resolved.Host != "" {
		host = resolved.Host
	}
	if port == 0 {
		port = resolved.Port
	}
	if user == "" {
		user = resolved.User
	}

	if port == 0 {
		port = 22
	}
	if user == "" {
		user = "root"
	}

	return Endpoint{Host: host, Port: port, User: user}
}

func defaultSSHConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".ssh", "config")
}

// resolveFromConfig looks up HostName/Port/User for an alias in an
// OpenSSH config file. Missing or unreadable config yields zero values.
func resolveFromConfig(configPath, alias string) Endpoint {
	var resolved Endpoint

	content, err := preprocessSSHConfig(configPath)
	if err != nil {
		return resolved
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return resolved
	}

	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		resolved.Host = hostname
	}
	if port, _ := cfg.Get(alias, "Port"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			resolved.Port = n
		}
	}
	if user, _ := cfg.Get(alias, "User"); user != "" {
		resolved.User = user
	}

	return resolved
}

// preprocessSSHConfig returns the config content up to the first Match
// directive. The ssh_config library can't parse Match blocks, so entries
// after one are invisible to resolution.
func preprocessSSHConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			break
		}
		kept = append(kept, line)
	}

	return []byte(strings.Join(kept, "\n")), nil
}
