package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db: /tmp/traces.db
log:
  level: debug
output:
  format: text
workers:
  parallelism: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/traces.db", cfg.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format, "unset keys keep their default")
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, 3, cfg.Workers.Parallelism)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "output:\n  format: xml\n"))
	assert.ErrorContains(t, err, "output.format")

	_, err = Load(writeConfig(t, "log:\n  format: logfmt\n"))
	assert.ErrorContains(t, err, "log.format")

	_, err = Load(writeConfig(t, "workers: [1, 2\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadClampsParallelism(t *testing.T) {
	cfg, err := Load(writeConfig(t, "workers:\n  parallelism: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers.Parallelism)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/explicit.yaml", Path("/explicit.yaml"))

	t.Setenv("MEMTRACE_CONFIG", "/from/env.yaml")
	assert.Equal(t, "/from/env.yaml", Path(""))

	t.Setenv("MEMTRACE_CONFIG", "")
	t.Setenv("HOME", "/home/someone")
	assert.Equal(t, filepath.Join("/home/someone", ".memtrace", "config.yaml"), Path(""))
}
