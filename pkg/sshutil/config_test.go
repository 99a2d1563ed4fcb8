package sshutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestResolveFromConfig(t *testing.T) {
	path := writeSSHConfig(t, `
Host web1
    HostName 10.0.0.5
    Port 2222
    User deploy

Host bare
    HostName 10.0.0.6
`)

	t.Run("full entry", func(t *testing.T) {
		resolved := resolveFromConfig(path, "web1")
		assert.Equal(t, "10.0.0.5", resolved.Host)
		assert.Equal(t, 2222, resolved.Port)
		assert.Equal(t, "deploy", resolved.User)
	})

	t.Run("partial entry leaves zero values", func(t *testing.T) {
		resolved := resolveFromConfig(path, "bare")
		assert.Equal(t, "10.0.0.6", resolved.Host)
		assert.Equal(t, 0, resolved.Port)
		assert.Equal(t, "", resolved.User)
	})

	t.Run("unknown alias", func(t *testing.T) {
		resolved := resolveFromConfig(path, "nope")
		assert.Equal(t, Endpoint{}, resolved)
	})

	t.Run("missing file", func(t *testing.T) {
		resolved := resolveFromConfig(filepath.Join(t.TempDir(), "absent"), "web1")
		assert.Equal(t, Endpoint{}, resolved)
	})
}

func TestResolveFromConfigStopsAtMatch(t *testing.T) {
	path := writeSSHConfig(t, `
Host before
    HostName 10.0.0.7

Match user deploy
    ForwardAgent yes

Host after
    HostName 10.0.0.8
`)

	assert.Equal(t, "10.0.0.7", resolveFromConfig(path, "before").Host)
	// Entries behind a Match block are invisible to the parser.
	assert.Equal(t, "", resolveFromConfig(path, "after").Host)
}

func TestResolveEndpointDefaults(t *testing.T) {
	// An address-literal host won't match any config alias, so the
	// hard-coded fallbacks apply.
	ep := ResolveEndpoint("203.0.113.9", 0, "")
	assert.Equal(t, "203.0.113.9", ep.Host)
	assert.Equal(t, 22, ep.Port)
	assert.Equal(t, "root", ep.User)

	ep = ResolveEndpoint("203.0.113.9", 2200, "admin")
	assert.Equal(t, 2200, ep.Port)
	assert.Equal(t, "admin", ep.User)
}
