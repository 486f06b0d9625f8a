package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/database-mcp-server/internal/config"
	"github.com/FreePeak/database-mcp-server/pkg/dbtools"
)

const validTools = `
sources:
  main:
    kind: postgres
    host: localhost
    port: 5432
    database: app
    user: app
    password: pw
tools:
  count-users:
    kind: generic-sql
    source: main
    description: Count users
    statement: SELECT count(*) FROM users
`

const invalidTools = `
sources:
  main:
    kind: mongodb
    host: localhost
`

// isolate runs the test from an empty directory with a clean environment
func isolate(t *testing.T) string {
	t.Helper()
	for _, v := range []string{
		"SERVER_PORT", "SERVER_HOST", "TRANSPORT_MODE", "LOG_LEVEL", "LOG_FILE",
		"TOOLS_CONFIG", "TOOLSET", "QUERY_TIMEOUT", "CONNECTION_MAX_IDLE",
		"CONNECTION_CLEANUP_INTERVAL", "SLOW_QUERY_THRESHOLD", "QUERY_METRICS",
	} {
		t.Setenv(v, "")
	}
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeTools(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "custom-tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("TRANSPORT_MODE", "sse")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("LOG_LEVEL", "warn")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--transport", "http", "--host", "127.0.0.1", "--toolset", "reports"}))

	opts := &options{}
	opts.transport, _ = cmd.Flags().GetString("transport")
	opts.host, _ = cmd.Flags().GetString("host")
	opts.toolset, _ = cmd.Flags().GetString("toolset")

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.TransportMode, "flag beats env")
	assert.Equal(t, "127.0.0.1", cfg.ServerHost)
	assert.Equal(t, "reports", cfg.Toolset)
	assert.Equal(t, 9100, cfg.ServerPort, "env beats default")
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SERVER_PORT=9200\n"), 0o600))
	// the blank value set by isolate must not shadow the file
	require.NoError(t, os.Unsetenv("SERVER_PORT"))

	cmd := newRootCmd()
	cfg, err := loadConfig(cmd, &options{})
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.ServerPort)
}

func TestValidateConfigFlag(t *testing.T) {
	dir := isolate(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--validate-config", "--config", writeTools(t, dir, validTools)})
	assert.NoError(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetArgs([]string{"--validate-config", "--config", writeTools(t, dir, invalidTools)})
	assert.ErrorIs(t, cmd.Execute(), errReported)
}

func TestValidateMissingConfigFile(t *testing.T) {
	dir := isolate(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--validate-config", "--config", filepath.Join(dir, "absent.yaml")})
	assert.ErrorContains(t, cmd.Execute(), "configuration file not found")
}

func TestUnsupportedTransport(t *testing.T) {
	dir := isolate(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--transport", "carrier-pigeon", "--config", writeTools(t, dir, validTools)})
	assert.ErrorContains(t, cmd.Execute(), `unsupported transport "carrier-pigeon"`)
}

func TestValidateConfigRejectsUnknownTransport(t *testing.T) {
	dir := isolate(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--validate-config", "--transport", "bogus", "--config", writeTools(t, dir, validTools)})
	assert.ErrorContains(t, cmd.Execute(), `unsupported transport "bogus"`)

	t.Setenv("TRANSPORT_MODE", "smoke-signals")
	_, err := loadConfig(newRootCmd(), &options{})
	assert.ErrorContains(t, err, `unsupported transport "smoke-signals"`)
}

func TestConfigureMetrics(t *testing.T) {
	analyzer := dbtools.GetPerformanceAnalyzer()
	analyzer.Reset()
	defer func() {
		analyzer.SetSlowThreshold(500 * time.Millisecond)
		analyzer.Enable()
		analyzer.Reset()
	}()

	configureMetrics(&config.Config{SlowQueryThreshold: 2 * time.Second, QueryMetrics: false})
	assert.Equal(t, 2*time.Second, analyzer.SlowThreshold())

	_, err := analyzer.TrackQuery(context.Background(), "SELECT untracked", nil, func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Empty(t, analyzer.GetAllMetrics())

	configureMetrics(&config.Config{SlowQueryThreshold: time.Second, QueryMetrics: true})
	_, err = analyzer.TrackQuery(context.Background(), "SELECT tracked", nil, func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Len(t, analyzer.GetAllMetrics(), 1)
}

func TestRejectsPositionalArguments(t *testing.T) {
	isolate(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve"})
	assert.Error(t, cmd.Execute())
}
