package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/audit"
	"github.com/tributary-ai/request-router/internal/config"
	"github.com/tributary-ai/request-router/internal/dispatch"
	"github.com/tributary-ai/request-router/internal/health"
	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/providers/anthropic"
	"github.com/tributary-ai/request-router/internal/providers/bedrock"
	"github.com/tributary-ai/request-router/internal/providers/httpbackend"
	"github.com/tributary-ai/request-router/internal/providers/openai"
	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/routing"
	"github.com/tributary-ai/request-router/internal/security"
	"github.com/tributary-ai/request-router/internal/server"
	"github.com/tributary-ai/request-router/internal/types"
)

const shutdownTimeout = 30 * time.Second

// Application represents the main application
type Application struct {
	config *config.Config
	router *routing.Router
	server *server.Server
	logger *logrus.Logger
}

// NewApplication loads configuration and wires every component
func NewApplication(ctx context.Context, configPath string, withServer bool) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	router, err := buildRouter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &Application{
		config: cfg,
		router: router,
		logger: logger,
	}

	if withServer {
		app.server, err = server.NewServer(router, cfg.ToServerConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
	}

	return app, nil
}

// Run starts the router and HTTP server and blocks until a shutdown signal
func (app *Application) Run(ctx context.Context) error {
	app.logger.Info("Starting request router")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	app.router.Start(ctx)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = err
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case <-ctx.Done():
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
	}
	app.router.Shutdown()

	app.logger.Info("Graceful shutdown completed")
	return runErr
}

// buildRouter registers the configured endpoints and binds an adapter and
// a prober to every kind in use
func buildRouter(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*routing.Router, error) {
	reg := registry.New(logger)
	for _, endpoint := range cfg.Endpoints {
		if err := reg.Register(endpoint); err != nil {
			return nil, fmt.Errorf("failed to register endpoint: %w", err)
		}
	}

	dispatcher := dispatch.NewDispatcher(reg, logger)
	checkers := make(map[types.ServiceKind]providers.CredentialChecker)

	httpClient := &http.Client{Timeout: cfg.Providers.HTTP.Timeout}
	signing := cfg.Providers.HTTP.Signing
	backend := httpbackend.New(httpClient, security.NewServiceTokenSigner(&signing), logger)

	for _, kind := range cfg.EndpointKinds() {
		switch kind {
		case types.KindOpenAI:
			adapter := openai.NewOpenAIAdapter(cfg.Providers.OpenAI, logger)
			dispatcher.RegisterAdapter(kind, adapter)
			checkers[kind] = adapter
		case types.KindAnthropic:
			adapter := anthropic.NewAnthropicAdapter(cfg.Providers.Anthropic, logger)
			dispatcher.RegisterAdapter(kind, adapter)
			checkers[kind] = adapter
		case types.KindBedrock:
			adapter, err := bedrock.NewBedrockAdapter(ctx, cfg.Providers.Bedrock, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create bedrock adapter: %w", err)
			}
			dispatcher.RegisterAdapter(kind, adapter)
			checkers[kind] = adapter
		default:
			dispatcher.RegisterAdapter(kind, backend)
		}
	}

	probers := map[types.ProbeType]health.Prober{
		types.ProbeHTTP:       health.NewHTTPProber(&http.Client{Timeout: cfg.Router.ProbeTimeout}),
		types.ProbeGRPC:       health.NewGRPCProber(),
		types.ProbeCredential: health.NewCredentialProber(checkers),
	}
	monitor := health.NewMonitor(reg, probers, cfg.ToMonitorConfig(), logger)

	journal := cfg.Router.Journal
	router := routing.NewRouter(reg, dispatcher, logger, routing.Options{
		History: cfg.Router.History,
		Monitor: monitor,
		Journal: audit.NewJournal(&journal, logger),
	})

	logger.WithFields(logrus.Fields{
		"endpoints": reg.Len(),
		"kinds":     len(cfg.EndpointKinds()),
		"providers": cfg.GetEnabledProviders(),
	}).Info("Router configured")

	return router, nil
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
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}
