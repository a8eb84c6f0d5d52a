// Package cli provides common CLI initialization utilities shared by
// cmd/fintrack, cmd/fintrack-worker and cmd/fintrack-reconcile.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/log"

	"github.com/joho/godotenv"
)

// Mode selects which settings a command validates.
type Mode int

const (
	// ModeServer validates everything, including listener and identity.
	ModeServer Mode = iota
	// ModeBackground skips HTTP and identity settings.
	ModeBackground
)

// exit is swapped in tests.
var exit = os.Exit

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string, out io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// Bootstrap loads .env and the configuration, sets up logging and
// validates the configuration for mode. It exits the process when the
// configuration is invalid.
func Bootstrap(component string, mode Mode, out io.Writer) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component, out)

	validate := cfg.Validate
	if mode == ModeBackground {
		validate = cfg.ValidateBackground
	}
	if err := validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.NewFields().
				WithError(err).
				WithErrorType(log.ErrorTypeConfiguration).
				WithOperation(log.OpStartup).
				ToSlice()...)
		exit(1)
	}
	return cfg, logger
}

// OpenBackend creates the store (and event client, when configured) named
// by cfg. It exits the process on failure.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		exit(1)
		return nil
	}
	be, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend",
			log.FieldError, err.Error(),
			"backend", cfg.DataBackend)
		exit(1)
		return nil
	}
	return be
}

// CloseBackend runs the backend cleanup, logging any failure.
func CloseBackend(be *backend.BackendResult, logger *log.Logger) {
	if be == nil || be.Cleanup == nil {
		return
	}
	if err := be.Cleanup(); err != nil {
		logger.Warn("Backend cleanup failed", log.FieldError, err.Error())
	}
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM. The
// received signal is logged once.
func ShutdownContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
