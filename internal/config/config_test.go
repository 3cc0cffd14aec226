package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "schema.yaml", cfg.SchemaFile)
	assert.Empty(t, cfg.Log.File)

	// Processing defaults
	assert.Equal(t, 1.9, cfg.Processing.ExpirationTolerance)
	assert.Equal(t, 10000, cfg.Processing.MaxRepeatCount)
	assert.Equal(t, 16, cfg.Processing.CacheHistorySize)
	assert.False(t, cfg.Processing.IgnoreOutOfContainerEntries)

	assert.Equal(t, 4096, cfg.Command.MaxSizeBytes)
	assert.False(t, cfg.Command.AppendCRC)

	// TM link defaults
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10015, cfg.Server.Port)

	// API defaults
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 8080, cfg.API.Port)

	// MQTT defaults
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "tmtc", cfg.MQTT.Topic)
	assert.Equal(t, 5, cfg.MQTT.ConnectionRetryAttempts)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigWithNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent_config.yaml")

	// Should error when file doesn't exist
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigWithValidYAML(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
schema_file: /etc/tmtc/sat.yaml
log:
  file: /var/log/tmtc.log
  max_size_mb: 10
  compress: true
processing:
  root_container: ccsds
  ignore_out_of_container_entries: true
  expiration_tolerance: 2.5
  max_repeat_count: 50
  cache_history_size: 4
  publish_topic_per_container: true
command:
  max_size_bytes: 256
  append_crc: true
  schedule:
    - command: set_mode
      interval_seconds: 30
      max_retries: 2
      arguments:
        mode: RUN
        level: 3
server:
  enabled: false
  host: 127.0.0.1
  port: 9999
  read_timeout_seconds: 5
  frame_crc: true
api:
  enabled: false
  port: 9000
mqtt:
  enabled: true
  host: mqtt.example.com
  port: 8883
  username: testuser
  password: testpass
  topic: test/topic
  retain: true
metrics:
  enabled: false
  path: /prom
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/etc/tmtc/sat.yaml", cfg.SchemaFile)
	assert.Equal(t, "/var/log/tmtc.log", cfg.Log.File)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 3, cfg.Log.MaxBackups, "unset keys keep their default")
	assert.True(t, cfg.Log.Compress)

	assert.Equal(t, "ccsds", cfg.Processing.RootContainer)
	assert.True(t, cfg.Processing.IgnoreOutOfContainerEntries)
	assert.Equal(t, 2.5, cfg.Processing.ExpirationTolerance)
	assert.Equal(t, 50, cfg.Processing.MaxRepeatCount)
	assert.Equal(t, 4, cfg.Processing.CacheHistorySize)
	assert.True(t, cfg.Processing.PublishTopicPerContainer)

	assert.Equal(t, 256, cfg.Command.MaxSizeBytes)
	assert.True(t, cfg.Command.AppendCRC)
	require.Len(t, cfg.Command.Schedule, 1)
	assert.Equal(t, ScheduledCommand{
		Command:         "set_mode",
		Arguments:       map[string]string{"mode": "RUN", "level": "3"},
		IntervalSeconds: 30,
		MaxRetries:      2,
	}, cfg.Command.Schedule[0])

	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.ReadTimeoutSeconds)
	assert.True(t, cfg.Server.FrameCRC)

	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, 9000, cfg.API.Port)

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "testuser", cfg.MQTT.Username)
	assert.Equal(t, "testpass", cfg.MQTT.Password)
	assert.Equal(t, "test/topic", cfg.MQTT.Topic)
	assert.True(t, cfg.MQTT.Retain)

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "mqtt:\n  host: from-file\n")
	t.Setenv("TMTC_MQTT_HOST", "from-env")
	t.Setenv("TMTC_SCHEMA_FILE", "/tmp/env.yaml")
	t.Setenv("TMTC_COMMAND_APPEND_CRC", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MQTT.Host)
	assert.Equal(t, "/tmp/env.yaml", cfg.SchemaFile)
	assert.True(t, cfg.Command.AppendCRC)
}

func TestLoadConfigWithInvalidYAML(t *testing.T) {
	path := writeConfig(t, `
invalid: yaml: content: [
`)

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"tolerance", "processing:\n  expiration_tolerance: 0\n"},
		{"repeat count", "processing:\n  max_repeat_count: -1\n"},
		{"history", "processing:\n  cache_history_size: 0\n"},
		{"command size", "command:\n  max_size_bytes: 0\n"},
		{"schedule interval", "command:\n  schedule:\n    - command: ping\n"},
		{"schedule command", "command:\n  schedule:\n    - interval_seconds: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestPrint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.MQTT.Enabled = true
	cfg.Log.File = "tmtc.log"

	// This test mainly ensures Print() doesn't panic
	assert.NotPanics(t, func() {
		cfg.Print()
	})
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load("../../configs/config.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "configs/schema.example.yaml", cfg.SchemaFile)
	assert.Equal(t, 10015, cfg.Server.Port)
	require.Len(t, cfg.Command.Schedule, 1)
	assert.Equal(t, "ping", cfg.Command.Schedule[0].Command)
	assert.Equal(t, 60, cfg.Command.Schedule[0].IntervalSeconds)
}
