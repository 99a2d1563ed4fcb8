package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/errors"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"dev stays bare", "dev", "dev"},
		{"empty stays empty", "", ""},
		{"v prefix added", "1.2.3", "v1.2.3"},
		{"v prefix kept", "v1.2.3", "v1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatVersion(tt.input))
		})
	}
}

func TestSetVersionInfo(t *testing.T) {
	origVersion, origCommit, origDate := version, commit, date
	defer func() {
		version, commit, date = origVersion, origCommit, origDate
	}()

	SetVersionInfo("1.0.0", "abc123", "2026-01-01")
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, "abc123", commit)
	assert.Equal(t, "2026-01-01", date)
}

func TestRunInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perch.yaml")
	require.NoError(t, runInit(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, config.Default().Listen, cfg.Listen)
	assert.Equal(t, config.Default().MaxWorkers, cfg.MaxWorkers)
}

func TestRunInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: :9999\n"), 0o644))

	err := runInit(path, false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	// The existing file is untouched.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "listen: :9999\n", string(data))

	// --force replaces it.
	require.NoError(t, runInit(path, true))
	var cfg config.Config
	data, _ = os.ReadFile(path)
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, config.Default().Listen, cfg.Listen)
}

func TestRootCommandRegistrations(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "init", "keygen", "provision", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}
