package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "none", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 10, cfg.Search.ResultsPerPage)
	assert.Equal(t, 3, cfg.Fetch.ProxyStrikes)
	assert.Equal(t, 5*time.Minute, cfg.Fetch.ProxyCooldown)
	assert.Empty(t, cfg.Search.ProxiesFile)
	assert.Equal(t, 40*time.Second, cfg.Request.Timeout)
	assert.Equal(t, "text", cfg.Request.OutputFormats)
	assert.Equal(t, time.Second, cfg.DrainGrace)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "skein.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":9000"
storage:
  backend: sqlite
  dsn: /tmp/file.db
worker:
  concurrency: 8
request:
  timeout: 20s
`), 0o644))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SKEIN_FETCH_FINGERPRINT=firefox\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SKEIN_FETCH_FINGERPRINT") })

	t.Setenv("SKEIN_WORKER_CONCURRENCY", "12")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("storage.dsn", "", "")
	require.NoError(t, flags.Parse([]string{"--storage.dsn=/data/override.db"}))

	cfg, err := Load(Options{File: file, EnvFile: envFile, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/data/override.db", cfg.Storage.DSN)
	assert.Equal(t, 12, cfg.Worker.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.Request.Timeout)
	assert.Equal(t, "firefox", cfg.Fetch.Fingerprint)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("SKEIN_FETCH_JITTER", "2")
	t.Setenv("SKEIN_WORKER_CONCURRENCY", "0")

	_, err := Load(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.jitter")
	assert.Contains(t, err.Error(), "worker.concurrency")
}
