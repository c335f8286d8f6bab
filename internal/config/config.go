// Package config loads runtime settings from a YAML file with environment
// overrides. Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/accrt/internal/backend"
	"github.com/samcharles93/accrt/internal/stream"
)

// Environment variables consulted by Load.
const (
	EnvConfig   = "ACCRT_CONFIG"
	EnvBackend  = "ACCRT_BACKEND"
	EnvStreams  = "ACCRT_STREAMS"
	EnvLogLevel = "ACCRT_LOG_LEVEL"
)

// Config is the accrt configuration file (~/.config/accrt/config.yaml).
type Config struct {
	Backend   string `yaml:"backend" json:"backend"`
	Streams   int    `yaml:"streams" json:"streams"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Simulated device
	LockHostPages bool          `yaml:"lock_host_pages" json:"lock_host_pages"`
	MemoryLimit   int64         `yaml:"memory_limit" json:"memory_limit"`
	CopyLatency   time.Duration `yaml:"copy_latency" json:"copy_latency"`

	// Inspector
	InspectAddress string `yaml:"inspect_address" json:"inspect_address"`

	// FatalExit terminates the process on the first unrecoverable error.
	FatalExit bool `yaml:"fatal_exit" json:"fatal_exit"`
}

func Default() Config {
	return Config{
		Backend:        backend.Auto,
		Streams:        stream.DefaultSize,
		LogLevel:       "info",
		LogFormat:      "pretty",
		InspectAddress: "127.0.0.1:9464",
	}
}

// Path returns $ACCRT_CONFIG when set, otherwise accrt/config.yaml under
// the user config directory. It returns "" when neither can be determined.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "accrt", "config.yaml")
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = v
	}
	if v, ok := lookup(EnvStreams); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStreams, err)
		}
		c.Streams = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate normalizes the backend name and rejects unusable settings.
func (c *Config) Validate() error {
	name, err := backend.Normalize(c.Backend)
	if err != nil {
		return err
	}
	c.Backend = name
	if c.Streams < 2 {
		return fmt.Errorf("streams must be >= 2, got %d", c.Streams)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("memory_limit must be >= 0, got %d", c.MemoryLimit)
	}
	if c.CopyLatency < 0 {
		return fmt.Errorf("copy_latency must be >= 0, got %s", c.CopyLatency)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", c.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "pretty", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q (expected pretty, json, or text)", c.LogFormat)
	}
	return nil
}
