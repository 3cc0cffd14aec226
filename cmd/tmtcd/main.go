// Package main provides the entry point of the go-tmtc server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/resident-x/go-tmtc/internal/api"
	"github.com/resident-x/go-tmtc/internal/config"
	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/metrics"
	"github.com/resident-x/go-tmtc/internal/pubsub"
	"github.com/resident-x/go-tmtc/internal/scheduler"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/service"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code) // os.Exit is called after deferred functions in run() execute
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("tmtcd", flag.ContinueOnError)
	flags.SetOutput(stdout)
	configFile := flags.String("config", "config.yaml", "Path to configuration file")
	schemaFile := flags.String("schema", "", "Path to the schema file (overrides the configuration)")
	showVersion := flags.Bool("version", false, "Show version information")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "go-tmtc server %s\n", Version)
		return 0
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stdout, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *schemaFile != "" {
		cfg.SchemaFile = *schemaFile
	}

	closeLog := initLogger(cfg, os.Stderr)
	defer closeLog()

	log.Info().Str("version", Version).Msg("Starting go-tmtc server")
	cfg.Print()

	db, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		log.Error().Err(err).Str("schema", cfg.SchemaFile).Msg("Failed to load schema")
		return 1
	}
	log.Info().
		Int("parameters", len(db.Parameters())).
		Int("containers", len(db.Containers())).
		Int("commands", len(db.Commands())).
		Msg("Schema loaded")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var publisher domain.MessagePublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop publisher")
		publisher = pubsub.NewNoopPublisher()
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close message publisher")
		}
	}()

	processor, err := service.NewProcessor(cfg, db, publisher, m)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create packet processor")
		return 1
	}

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 10*time.Second)
	}

	var link api.Link
	var sched *scheduler.Scheduler
	if cfg.Server.Enabled {
		linkServer := service.NewLinkServer(cfg, processor, m)
		if err := linkServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start link server")
			return 1
		}
		defer func() {
			sctx, cancel := shutdownCtx()
			defer cancel()
			if err := linkServer.Stop(sctx); err != nil {
				log.Error().Err(err).Msg("Error stopping link server")
			}
		}()
		link = linkServer

		if len(cfg.Command.Schedule) > 0 {
			sched, err = scheduler.New(processor, linkServer, scheduler.FromConfig(cfg.Command.Schedule))
			if err != nil {
				log.Error().Err(err).Msg("Invalid command schedule")
				return 1
			}
			if err := sched.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to start command scheduler")
				return 1
			}
			defer func() {
				if err := sched.Stop(); err != nil {
					log.Error().Err(err).Msg("Error stopping command scheduler")
				}
			}()
		}
	} else if len(cfg.Command.Schedule) > 0 {
		log.Warn().Int("jobs", len(cfg.Command.Schedule)).Msg("TM link disabled, command schedule ignored")
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, processor, link, m)
		if sched != nil {
			apiServer.SetSchedule(sched)
		}
		api.Version = Version
		if err := apiServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start API server")
			return 1
		}
		defer func() {
			sctx, cancel := shutdownCtx()
			defer cancel()
			if err := apiServer.Stop(sctx); err != nil {
				log.Error().Err(err).Msg("Error stopping API server")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	return 0
}

// initLogger configures the global zerolog logger: a console writer, plus
// a rotating file when log.file is set. The returned function closes the
// file.
func initLogger(cfg *config.Config, console io.Writer) func() {
	var output io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	closeFn := func() {}

	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxAge:     cfg.Log.MaxAgeDays,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
		}
		output = zerolog.MultiLevelWriter(output, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		fmt.Fprintf(console, "Invalid log level '%s', defaulting to 'info'\n", cfg.LogLevel)
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
	return closeFn
}
