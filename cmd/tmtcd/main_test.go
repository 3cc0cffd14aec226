package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-tmtc/internal/config"
)

const testSchema = `
root_container: pkt
types:
  - name: uint8
    kind: integer
    encoding: {kind: integer, bits: 8}
parameters:
  - {name: counter, type: uint8}
containers:
  - name: pkt
    entries:
      - {parameter: counter}
commands:
  - name: ping
    entries:
      - {fixed: {hex: "7F", bits: 8}}
`

func restoreLogger(t *testing.T) {
	t.Helper()
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionFlag(t *testing.T) {
	Version = "1.2.3"
	var out bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &out)

	assert.Equal(t, 0, code)
	assert.Equal(t, "go-tmtc server 1.2.3\n", out.String())
}

func TestUnknownFlag(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-bogus"}, &out))
	assert.Contains(t, out.String(), "flag provided but not defined")
}

func TestMissingConfigFile(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &out)

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Failed to load configuration")
}

func TestMissingSchemaFile(t *testing.T) {
	restoreLogger(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "server:\n  enabled: false\napi:\n  enabled: false\n")

	code := run(context.Background(), []string{"-config", cfgPath, "-schema", filepath.Join(dir, "none.yaml")}, &bytes.Buffer{})
	assert.Equal(t, 1, code)
}

func TestRunUntilCancelled(t *testing.T) {
	restoreLogger(t)
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.yaml", testSchema)
	logPath := filepath.Join(dir, "tmtcd.log")
	cfgPath := writeFile(t, dir, "config.yaml", `
log_level: debug
schema_file: `+schemaPath+`
log:
  file: `+logPath+`
server:
  host: 127.0.0.1
  port: 0
  read_timeout_seconds: 5
api:
  host: 127.0.0.1
  port: 0
command:
  schedule:
    - command: ping
      interval_seconds: 60
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"-config", cfgPath}, &bytes.Buffer{}) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Schema loaded")
	assert.Contains(t, string(data), "Command scheduler started")
	assert.Contains(t, string(data), "Shutdown signal received")
}

func TestInitLogger(t *testing.T) {
	restoreLogger(t)

	t.Run("invalid level falls back to info", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LogLevel = "loud"
		var console bytes.Buffer

		closeLog := initLogger(cfg, &console)
		defer closeLog()

		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
		assert.Contains(t, console.String(), "Invalid log level 'loud'")
	})

	t.Run("rotating file", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LogLevel = "warn"
		cfg.Log.File = filepath.Join(t.TempDir(), "tmtc.log")
		var console bytes.Buffer

		closeLog := initLogger(cfg, &console)
		log.Info().Msg("filtered")
		log.Warn().Msg("kept")
		closeLog()

		assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
		data, err := os.ReadFile(cfg.Log.File)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"kept"`)
		assert.NotContains(t, string(data), "filtered")
		assert.Contains(t, console.String(), "kept")
	})
}
