package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"classroom/internal/app"
	"classroom/internal/config"
)

// options are the command-line overrides applied on top of the loaded configuration
type options struct {
	configPath string
	envFile    string
	port       int
	logLevel   string
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("classroom", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv("CLASSROOM_CONFIG_FILE"), "path to a JSON configuration file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.IntVarP(&opts.port, "port", "p", -1, "HTTP port (overrides configuration)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (overrides configuration)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig layers defaults, environment, file and finally flags
func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.port >= 0 {
		cfg.HTTP.Port = opts.port
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	logger := logrus.New()
	if err := run(os.Args[1:], logger, nil); err != nil {
		logger.WithError(err).Fatal("classroom coordinator exited")
	}
}

// run blocks until a shutdown signal arrives or stop is closed
func run(args []string, logger *logrus.Logger, stop <-chan struct{}) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), application.ShutdownTimeout())
		defer shutdownCancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, shutting down gracefully")
	case <-stop:
	}

	// Timeout context prevents hanging shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), application.ShutdownTimeout())
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
