// Package config loads the signaling server configuration from environment
// variables, with command-line flags taking precedence.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	envVarListenAddr        = "LISTEN_ADDR"
	envVarMode              = "MODE"
	envVarLogFormat         = "LOG_FORMAT"
	envVarLogLevel          = "LOG_LEVEL"
	envVarRoomTimeout       = "ROOM_TIMEOUT"
	envVarCleanupInterval   = "CLEANUP_INTERVAL"
	envVarAllowedOrigins    = "ALLOWED_ORIGINS"
	envVarMaxMessageBytes   = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSec = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarShutdownTimeout   = "SHUTDOWN_TIMEOUT"
)

const (
	DefaultListenAddr = ":8080"
	DefaultMode       = ModeDev

	// DefaultRoomTimeout is both the one-shot unpaired-room expiry and the
	// idle threshold used by the periodic sweep.
	DefaultRoomTimeout = 30 * time.Second

	// DefaultCleanupInterval is the period of the idle sweep.
	DefaultCleanupInterval = 10 * time.Second

	DefaultMaxMessageBytes   = 64 * 1024
	DefaultMaxMessagesPerSec = 50
	DefaultShutdownTimeout   = 10 * time.Second
)

type Config struct {
	ListenAddr string
	Mode       Mode
	LogFormat  LogFormat
	LogLevel   slog.Level

	// RoomTimeout governs both expiry mechanisms: an unpaired room is removed
	// this long after creation, and any room goes when idle for longer.
	RoomTimeout time.Duration

	// CleanupInterval is how often the idle sweep runs.
	CleanupInterval time.Duration

	// AllowedOrigins restricts browser clients (WebSocket upgrade and CORS).
	// Empty allows any origin.
	AllowedOrigins []string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	ShutdownTimeout time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))
	listenAddrDefault := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsDefault := envOrDefault(lookup, envVarAllowedOrigins, "")

	roomTimeout, err := envDurationOrDefault(lookup, envVarRoomTimeout, DefaultRoomTimeout)
	if err != nil {
		return Config{}, err
	}
	cleanupInterval, err := envDurationOrDefault(lookup, envVarCleanupInterval, DefaultCleanupInterval)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSec, err := envIntOrDefault(lookup, envVarMaxMessagesPerSec, DefaultMaxMessagesPerSec)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("signaling-server", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", listenAddrDefault, "TCP address to listen on")
	modeStr := fs.String("mode", modeDefault, "run mode: dev or prod")
	logFormatStr := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level: debug, info, warn or error")
	roomTimeoutFlag := fs.Duration("room-timeout", roomTimeout, "unpaired-room expiry and idle threshold")
	cleanupIntervalFlag := fs.Duration("cleanup-interval", cleanupInterval, "idle sweep period")
	allowedOriginsStr := fs.String("allowed-origins", allowedOriginsDefault, "comma-separated list of allowed browser origins (empty allows all)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		RoomTimeout:     *roomTimeoutFlag,
		CleanupInterval: *cleanupIntervalFlag,
		AllowedOrigins:  splitOrigins(*allowedOriginsStr),

		MaxSignalingMessageBytes:      int64(maxMessageBytes),
		MaxSignalingMessagesPerSecond: maxMessagesPerSec,

		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RoomTimeout <= 0 {
		return fmt.Errorf("room timeout must be positive, got %v", c.RoomTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %v", c.CleanupInterval)
	}
	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("max signaling message bytes must be positive, got %d", c.MaxSignalingMessageBytes)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}
