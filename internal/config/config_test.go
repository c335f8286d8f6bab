package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 12, cfg.Streams)
	require.Equal(t, "auto", cfg.Backend)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvBackend, "")
	t.Setenv(EnvStreams, "")
	t.Setenv(EnvLogLevel, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv(EnvBackend, "")
	t.Setenv(EnvStreams, "")
	t.Setenv(EnvLogLevel, "")
	path := writeConfig(t, `
backend: sim
streams: 4
log_format: json
lock_host_pages: true
memory_limit: 1048576
copy_latency: 250us
fatal_exit: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sim", cfg.Backend)
	require.Equal(t, 4, cfg.Streams)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "info", cfg.LogLevel, "unset keys keep their defaults")
	require.True(t, cfg.LockHostPages)
	require.Equal(t, int64(1<<20), cfg.MemoryLimit)
	require.Equal(t, 250*time.Microsecond, cfg.CopyLatency)
	require.True(t, cfg.FatalExit)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "streams: [not a number\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	cfg := Default()
	env := map[string]string{
		EnvBackend:  "cuda",
		EnvStreams:  "6",
		EnvLogLevel: "debug",
	}
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	require.Equal(t, "cuda", cfg.Backend)
	require.Equal(t, 6, cfg.Streams)
	require.Equal(t, "debug", cfg.LogLevel)

	cfg = Default()
	require.NoError(t, cfg.applyEnv(noEnv))
	require.Equal(t, Default(), cfg)

	err = cfg.applyEnv(func(k string) (string, bool) {
		if k == EnvStreams {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"backend normalized", func(c *Config) { c.Backend = " SIM " }, true},
		{"empty backend is auto", func(c *Config) { c.Backend = "" }, true},
		{"unknown backend", func(c *Config) { c.Backend = "opencl" }, false},
		{"one stream", func(c *Config) { c.Streams = 1 }, false},
		{"two streams", func(c *Config) { c.Streams = 2 }, true},
		{"negative memory", func(c *Config) { c.MemoryLimit = -1 }, false},
		{"negative latency", func(c *Config) { c.CopyLatency = -time.Second }, false},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestPathPrefersEnv(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/accrt.yaml")
	require.Equal(t, "/etc/accrt.yaml", Path())
}

func TestPathUsesXDG(t *testing.T) {
	t.Setenv(EnvConfig, "")
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.Equal(t, filepath.Join(dir, "accrt", "config.yaml"), Path())
}
