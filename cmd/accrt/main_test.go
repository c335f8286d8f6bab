package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accrt/internal/config"
)

// run executes the CLI with an isolated config path and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv(config.EnvBackend, "")
	t.Setenv(config.EnvStreams, "")
	t.Setenv(config.EnvLogLevel, "")

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(context.Background(), append([]string{"accrt", "--backend", "sim", "--log-format", "json"}, args...))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "version:")
}

func TestInfoJSON(t *testing.T) {
	out, err := run(t, "--streams", "6", "info", "--json")
	require.NoError(t, err)

	var report infoReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "sim", report.Backend)
	require.True(t, report.Ready)
	require.Equal(t, 6, report.Streams)
	require.Equal(t, 6, report.Config.Streams)
	require.NotNil(t, report.Device)
	require.Contains(t, report.Available, "sim")
}

func TestSelftestPassesOnSim(t *testing.T) {
	out, err := run(t, "selftest")
	require.NoError(t, err)
	require.NotContains(t, out, "FAIL")
	require.Contains(t, out, "checks")
}

func TestBench(t *testing.T) {
	out, err := run(t, "bench", "--size", "4096", "--iters", "4", "--tags", "2")
	require.NoError(t, err)
	require.Contains(t, out, "sync")
	require.Contains(t, out, "async")
}

func TestInvalidStreams(t *testing.T) {
	_, err := run(t, "--streams", "1", "info")
	require.Error(t, err)
}
