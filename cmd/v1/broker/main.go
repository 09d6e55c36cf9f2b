package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/linefeed/chatbroker/internal/v1/broker"
	"github.com/linefeed/chatbroker/internal/v1/bus"
	"github.com/linefeed/chatbroker/internal/v1/config"
	"github.com/linefeed/chatbroker/internal/v1/health"
	"github.com/linefeed/chatbroker/internal/v1/logging"
	"github.com/linefeed/chatbroker/internal/v1/server"
	"github.com/linefeed/chatbroker/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Info("No .env file found, relying on environment variables")
	}

	// Validate CLI arguments and environment before starting the server
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing Initialization (Optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "chat-broker", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// --- Redis Bus Initialization (Optional) ---
	// Initialize Redis for cross-instance broadcast relay if enabled
	var busService *bus.Service
	if cfg.RedisEnabled {
		var err error
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil // Fallback to single-instance mode
		} else {
			slog.Info("Redis pub/sub initialized for cross-instance relay", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- Broker and TCP Server ---
	b := broker.New(busService)

	srv, err := server.Listen(cfg.Port, b)
	if err != nil {
		slog.Error("Failed to bind chat listener", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(context.Background())
	}()

	// --- Ops HTTP Server (Optional) ---
	// Serves Prometheus metrics and health probes on a separate listener.
	var opsSrv *http.Server
	if cfg.OpsPort != "" {
		if !cfg.DevelopmentMode {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Recovery())
		router.Use(otelgin.Middleware("chat-broker"))

		router.GET("/metrics", gin.WrapH(promhttp.Handler()))

		healthHandler := health.NewHandler(busService, b)
		router.GET("/health/live", healthHandler.Liveness)
		router.GET("/health/ready", healthHandler.Readiness)

		opsSrv = &http.Server{
			Addr:    ":" + cfg.OpsPort,
			Handler: router,
		}
		go func() {
			slog.Info("Ops server starting", "port", cfg.OpsPort)
			if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Ops server failed", "error", err)
			}
		}()
	}

	// --- Graceful Shutdown ---
	// Wait for a termination signal or a fatal accept-loop error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			slog.Error("Chat listener failed", "error", err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Sever all sessions and stop accepting.
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Error during server shutdown", "error", err)
	}

	if opsSrv != nil {
		if err := opsSrv.Shutdown(ctx); err != nil {
			slog.Error("Ops server forced to shutdown", "error", err)
		}
	}

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
	os.Exit(exitCode)
}
