// Package config loads the watcher configuration from YAML with
// environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/perchlabs/perch/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "perch.yaml"
	// GlobalConfigDir is the directory for global config, under $HOME.
	GlobalConfigDir = ".config/perch"
)

// Config is the complete perch.yaml configuration. Timeout-ish fields
// are plain integers with explicit units in the name so the YAML reads
// unambiguously; use the duration accessors in code.
type Config struct {
	// Listen is the HTTP/WebSocket bind address.
	Listen string `yaml:"listen" mapstructure:"listen"`

	// DataDir holds the server registry, uploaded keys, and the
	// watcher keypair.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// MaxWorkers bounds parallelism for bulk collection, connection
	// warming, and hub-dispatched refreshes.
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers"`

	// SSHTimeoutSeconds bounds connect plus handshake per server.
	SSHTimeoutSeconds int `yaml:"ssh_timeout_seconds" mapstructure:"ssh_timeout_seconds"`

	// CommandTimeoutSeconds bounds each remote probe command.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds" mapstructure:"command_timeout_seconds"`

	// HealthcheckSeconds is the background liveness sweep interval.
	HealthcheckSeconds int `yaml:"healthcheck_seconds" mapstructure:"healthcheck_seconds"`

	// KeepaliveSeconds is the per-session transport keepalive period.
	KeepaliveSeconds int `yaml:"keepalive_seconds" mapstructure:"keepalive_seconds"`

	// TickMillis is the hub scheduler cadence.
	TickMillis int `yaml:"tick_millis" mapstructure:"tick_millis"`

	// Subscriber poll intervals are clamped to [min, max]; requests
	// without a usable interval get the default.
	MinIntervalSeconds     int `yaml:"min_interval_seconds" mapstructure:"min_interval_seconds"`
	MaxIntervalSeconds     int `yaml:"max_interval_seconds" mapstructure:"max_interval_seconds"`
	DefaultIntervalSeconds int `yaml:"default_interval_seconds" mapstructure:"default_interval_seconds"`

	// Caps on per-process detail lists in full hub payloads.
	Pm2DetailLimit        int `yaml:"pm2_detail_limit" mapstructure:"pm2_detail_limit"`
	SupervisorDetailLimit int `yaml:"supervisor_detail_limit" mapstructure:"supervisor_detail_limit"`
}

// Default returns a Config with the stock settings.
func Default() *Config {
	return &Config{
		Listen:                 ":8420",
		DataDir:                "data",
		MaxWorkers:             8,
		SSHTimeoutSeconds:      30,
		CommandTimeoutSeconds:  30,
		HealthcheckSeconds:     10,
		KeepaliveSeconds:       30,
		TickMillis:             500,
		MinIntervalSeconds:     3,
		MaxIntervalSeconds:     60,
		DefaultIntervalSeconds: 10,
		Pm2DetailLimit:         8,
		SupervisorDetailLimit:  5,
	}
}

// Duration accessors.

func (c *Config) SSHTimeout() time.Duration     { return time.Duration(c.SSHTimeoutSeconds) * time.Second }
func (c *Config) CommandTimeout() time.Duration { return time.Duration(c.CommandTimeoutSeconds) * time.Second }
func (c *Config) HealthcheckInterval() time.Duration {
	return time.Duration(c.HealthcheckSeconds) * time.Second
}
func (c *Config) Keepalive() time.Duration { return time.Duration(c.KeepaliveSeconds) * time.Second }
func (c *Config) Tick() time.Duration      { return time.Duration(c.TickMillis) * time.Millisecond }
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}
func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalSeconds) * time.Second
}
func (c *Config) DefaultInterval() time.Duration {
	return time.Duration(c.DefaultIntervalSeconds) * time.Second
}

// Derived paths.

// KeysDir is where uploaded per-server key files and the watcher
// keypair live.
func (c *Config) KeysDir() string { return filepath.Join(c.DataDir, "keys") }

// ServersFile is the registry path.
func (c *Config) ServersFile() string { return filepath.Join(c.DataDir, "servers.json") }

// Load reads config from the specified path, merging over defaults.
// Environment variables with a PERCH_ prefix override file values
// (PERCH_LISTEN, PERCH_MAX_WORKERS, ...).
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found: "+path,
				"Run 'perch init' to create one, or specify a path with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file: "+path,
			"Check the file exists and is valid YAML")
	}

	return unmarshal(v, path)
}

// LoadOrDefault loads the config found by Find, or pure defaults (still
// honoring PERCH_ environment overrides) when no file exists.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return unmarshal(newViper(), "")
	}
	return Load(path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. perch.yaml in the current directory
// 3. ~/.config/perch/perch.yaml
//
// Returns empty string when nothing is found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err == nil {
		local := filepath.Join(cwd, ConfigFileName)
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}

	return "", nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PERCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range map[string]any{
		"listen":                   ":8420",
		"data_dir":                 "data",
		"max_workers":              8,
		"ssh_timeout_seconds":      30,
		"command_timeout_seconds":  30,
		"healthcheck_seconds":      10,
		"keepalive_seconds":        30,
		"tick_millis":              500,
		"min_interval_seconds":     3,
		"max_interval_seconds":     60,
		"default_interval_seconds": 10,
		"pm2_detail_limit":         8,
		"supervisor_detail_limit":  5,
	} {
		v.SetDefault(key, value)
	}
	return v
}

func unmarshal(v *viper.Viper, path string) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		where := path
		if where == "" {
			where = "environment"
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the values in "+where)
	}
	return cfg, nil
}
