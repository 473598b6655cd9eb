package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gh-nvat/deployment-changelog/src/internal/runner"
	"github.com/gh-nvat/deployment-changelog/src/pkg/config"
	"github.com/gh-nvat/deployment-changelog/src/pkg/metrics"
	"github.com/gh-nvat/deployment-changelog/src/pkg/trace"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "deployment-changelog"

var logger = log.WithField("package", "main")

// Do all initialization steps here:
// 1. Load .env, then the config (defaults, file, env, flags)
// 2. Configure logging and tracing
// 3. Build the upstream clients and the runner for the subcommand
// 4. Initialize and process the runner
func run(ctx context.Context, global *globalOptions, opts *runner.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := loadEnvFile(global.envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(global.configPath, global.bindings)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}

	shutdown, err := trace.InitTracer(SERVICE_NAME, cfg.Trace.Enabled, cfg.Trace.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdown()

	m := metrics.NewRecorder()
	clients, err := runner.NewClients(cfg, m)
	if err != nil {
		return err
	}

	r, err := runner.New(ctx, opts, cfg, clients, m)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	if err := r.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}
	return r.Process()
}

// loadEnvFile loads a dotenv file without overriding variables already set. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	logger.WithField("path", path).Debug("Loaded env file")
	return nil
}

// setupLogging sends logs to stderr so stdout only carries the changelog
func setupLogging(cfg config.LoggingConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch cfg.Format {
	case config.LOG_FORMAT_JSON:
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
