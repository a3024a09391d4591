package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jedisct1/inferswitch/internal/availability"
	"github.com/jedisct1/inferswitch/internal/backends"
	"github.com/jedisct1/inferswitch/internal/config"
	"github.com/jedisct1/inferswitch/internal/routing"
	"github.com/jedisct1/inferswitch/internal/server"
)

// Application represents the main application
type Application struct {
	config *config.Config
	router *routing.Router
	server *server.Server
	logger *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	registry := backends.NewRegistry(logger)
	if err := registerBackends(registry, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to register backends: %w", err)
	}

	policy, err := cfg.BuildPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to build routing policy: %w", err)
	}

	tracker := availability.NewTracker(cfg.DisableDuration(), logger)
	routerInstance := routing.NewRouter(policy, registry, tracker, logger)

	// No classifier is wired here; difficulty, expert and expertise
	// labels come from an external classifier service when one is
	// plugged in.
	serverInstance, err := server.NewServer(routerInstance, registry, nil, cfg.ToServerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config: cfg,
		router: routerInstance,
		server: serverInstance,
		logger: logger,
	}, nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting inferswitch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// registerBackends registers a handle for every declared backend.
// Outbound clients are external; mock handles stand in so routing and
// the non-proxy mode work against the declared topology.
func registerBackends(registry *backends.Registry, cfg *config.Config, logger *logrus.Logger) error {
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("no backends declared - check your configuration")
	}

	for _, b := range cfg.Backends {
		registry.Register(backends.NewMock(b.Name, b.Models))
		logger.WithFields(logrus.Fields{
			"backend": b.Name,
			"models":  len(b.Models),
			"dynamic": len(b.Models) == 0,
		}).Info("Backend registered")
	}

	logger.WithField("count", len(cfg.Backends)).Info("Backend registration completed")
	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_PORT                    Server port (default: 1235)\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_LOG_LEVEL               Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_LOG_FORMAT              Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_PROXY_MODE              Dispatch to backends (default: true)\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_BACKEND                 Pin every request to one backend\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_MODEL_OVERRIDE          Override model, \"from:to\" or bare name\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_FALLBACK_PROVIDER       Fallback backend\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_FALLBACK_MODEL          Fallback model\n")
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_MODEL_DISABLE_DURATION  Cooldown seconds after a model failure\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  INFERSWITCH_PORT=8080 %s --config configs/config.yaml\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("inferswitch v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
