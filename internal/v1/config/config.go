package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// DefaultPort is used when neither the CLI argument nor PORT is set.
const DefaultPort = 1234

// Config holds validated CLI and environment configuration
type Config struct {
	// Port the broker listens on. Positional CLI argument first, then PORT,
	// then DefaultPort.
	Port int

	// OpsPort serves /metrics and /health endpoints. Empty disables the ops
	// listener entirely.
	OpsPort string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Cross-instance relay bus
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing
	OtelCollectorAddr string
}

// Load validates the CLI arguments and environment and returns a Config.
// args is os.Args[1:]. The CLI contract is `chat_server [port]`: more than
// one positional argument logs usage and falls back to defaults rather than
// failing, matching the historical behavior.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	var errors []string

	switch {
	case len(args) > 1:
		slog.Warn("Usage: chat_server [port]", "got_args", len(args))
		cfg.Port = DefaultPort
	case len(args) == 1:
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("port argument must be a valid port number between 1 and 65535 (got '%s')", args[0]))
		}
		cfg.Port = port
	default:
		cfg.Port = DefaultPort
		if p := os.Getenv("PORT"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil || port < 1 || port > 65535 {
				errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", p))
			} else {
				cfg.Port = port
			}
		}
	}

	// Optional: OPS_PORT (empty disables the ops HTTP listener)
	cfg.OpsPort = os.Getenv("OPS_PORT")
	if cfg.OpsPort != "" {
		port, err := strconv.Atoi(cfg.OpsPort)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("OPS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.OpsPort))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Configuration validated",
		"port", cfg.Port,
		"ops_port", cfg.OpsPort,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"otel_collector_addr", cfg.OtelCollectorAddr,
	)
}

// redactSecret redacts a secret by showing only whether it is set
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
