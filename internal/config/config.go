// Package config provides configuration management for the go-tmtc
// application.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel   string `mapstructure:"log_level"`
	SchemaFile string `mapstructure:"schema_file"`

	// Rotating log file, disabled when File is empty
	Log struct {
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log"`

	// Packet processing settings
	Processing struct {
		RootContainer               string  `mapstructure:"root_container"`
		IgnoreOutOfContainerEntries bool    `mapstructure:"ignore_out_of_container_entries"`
		ExpirationTolerance         float64 `mapstructure:"expiration_tolerance"`
		MaxRepeatCount              int     `mapstructure:"max_repeat_count"`
		CacheHistorySize            int     `mapstructure:"cache_history_size"`
		PublishTopicPerContainer    bool    `mapstructure:"publish_topic_per_container"`
	} `mapstructure:"processing"`

	// Command encoding settings
	Command struct {
		MaxSizeBytes int                `mapstructure:"max_size_bytes"`
		AppendCRC    bool               `mapstructure:"append_crc"`
		Schedule     []ScheduledCommand `mapstructure:"schedule"`
	} `mapstructure:"command"`

	// TM link settings
	Server struct {
		Enabled            bool   `mapstructure:"enabled"`
		Host               string `mapstructure:"host"`
		Port               int    `mapstructure:"port"`
		ReadTimeoutSeconds int    `mapstructure:"read_timeout_seconds"`
		FrameCRC           bool   `mapstructure:"frame_crc"`
	} `mapstructure:"server"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled                  bool   `mapstructure:"enabled"`
		Host                     string `mapstructure:"host"`
		Port                     int    `mapstructure:"port"`
		Username                 string `mapstructure:"username"`
		Password                 string `mapstructure:"password"`
		Topic                    string `mapstructure:"topic"`
		Retain                   bool   `mapstructure:"retain"`
		ConnectionRetryAttempts  int    `mapstructure:"connection_retry_attempts"`
		ConnectionRetryBaseDelay int    `mapstructure:"connection_retry_base_delay_seconds"`
		ConnectionTimeout        int    `mapstructure:"connection_timeout_seconds"`
	} `mapstructure:"mqtt"`

	// Prometheus metrics settings
	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"metrics"`
}

// ScheduledCommand is a command uplinked every IntervalSeconds. An empty
// Session sends it to every link session.
type ScheduledCommand struct {
	Command         string            `mapstructure:"command"`
	Arguments       map[string]string `mapstructure:"arguments"`
	Session         string            `mapstructure:"session"`
	IntervalSeconds int               `mapstructure:"interval_seconds"`
	MaxRetries      int               `mapstructure:"max_retries"`
}

// envKeys are the settings that can be overridden from the environment,
// e.g. TMTC_MQTT_HOST for mqtt.host.
var envKeys = []string{
	"log_level", "schema_file",
	"log.file", "log.max_size_mb", "log.max_backups", "log.max_age_days", "log.compress",
	"processing.root_container", "processing.ignore_out_of_container_entries",
	"processing.expiration_tolerance", "processing.max_repeat_count",
	"processing.cache_history_size", "processing.publish_topic_per_container",
	"command.max_size_bytes", "command.append_crc",
	"server.enabled", "server.host", "server.port", "server.read_timeout_seconds", "server.frame_crc",
	"api.enabled", "api.host", "api.port",
	"mqtt.enabled", "mqtt.host", "mqtt.port", "mqtt.username", "mqtt.password", "mqtt.topic", "mqtt.retain",
	"metrics.enabled", "metrics.path",
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:   "info",
		SchemaFile: "schema.yaml",
	}

	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAgeDays = 28

	// Default processing settings
	cfg.Processing.ExpirationTolerance = 1.9
	cfg.Processing.MaxRepeatCount = 10000
	cfg.Processing.CacheHistorySize = 16

	cfg.Command.MaxSizeBytes = 4096

	// Default TM link settings
	cfg.Server.Enabled = true
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 10015
	cfg.Server.ReadTimeoutSeconds = 300

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default MQTT settings
	cfg.MQTT.Enabled = false
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "tmtc"
	cfg.MQTT.ConnectionRetryAttempts = 5
	cfg.MQTT.ConnectionRetryBaseDelay = 2
	cfg.MQTT.ConnectionTimeout = 10

	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("TMTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("unable to bind %s: %w", key, err)
		}
	}

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch {
	case c.Processing.ExpirationTolerance <= 0:
		return fmt.Errorf("invalid config: expiration_tolerance must be positive, got %v", c.Processing.ExpirationTolerance)
	case c.Processing.MaxRepeatCount <= 0:
		return fmt.Errorf("invalid config: max_repeat_count must be positive, got %d", c.Processing.MaxRepeatCount)
	case c.Processing.CacheHistorySize <= 0:
		return fmt.Errorf("invalid config: cache_history_size must be positive, got %d", c.Processing.CacheHistorySize)
	case c.Command.MaxSizeBytes <= 0:
		return fmt.Errorf("invalid config: command max_size_bytes must be positive, got %d", c.Command.MaxSizeBytes)
	}
	for i, sc := range c.Command.Schedule {
		if sc.Command == "" {
			return fmt.Errorf("invalid config: schedule entry %d has no command", i)
		}
		if sc.IntervalSeconds <= 0 || sc.MaxRetries < 0 {
			return fmt.Errorf("invalid config: schedule entry %q needs a positive interval_seconds and non-negative max_retries", sc.Command)
		}
	}
	return nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-tmtc Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")
	logger.Info().Str("schema_file", c.SchemaFile).Msg("Schema")
	if c.Log.File != "" {
		logger.Info().
			Str("file", c.Log.File).
			Int("max_size_mb", c.Log.MaxSizeMB).
			Int("max_backups", c.Log.MaxBackups).
			Msg("Log File")
	}

	logger.Info().
		Str("root_container", c.Processing.RootContainer).
		Bool("ignore_out_of_container_entries", c.Processing.IgnoreOutOfContainerEntries).
		Float64("expiration_tolerance", c.Processing.ExpirationTolerance).
		Int("max_repeat_count", c.Processing.MaxRepeatCount).
		Int("cache_history_size", c.Processing.CacheHistorySize).
		Msg("Processing")

	logger.Info().
		Int("max_size_bytes", c.Command.MaxSizeBytes).
		Bool("append_crc", c.Command.AppendCRC).
		Int("scheduled", len(c.Command.Schedule)).
		Msg("Command")

	logger.Info().Bool("enabled", c.Server.Enabled).Msg("TM Link Enabled")
	if c.Server.Enabled {
		logger.Info().
			Str("host", c.Server.Host).
			Int("port", c.Server.Port).
			Bool("frame_crc", c.Server.FrameCRC).
			Msg("TM Link")
	}

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("retain", c.MQTT.Retain).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.Metrics.Enabled).Str("path", c.Metrics.Path).Msg("Metrics")
	logger.Info().Msg("-----------------------------")
}
