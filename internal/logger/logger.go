// Package logger configures the process-wide slog logger: JSON to stdout
// by default, bridged to OpenTelemetry when OTEL_ENABLED is set. Warnings
// and errors are sampled to keep log volume bounded; counters are always
// incremented so the stats endpoint stays accurate regardless of sampling.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	Logger       *slog.Logger
	programLevel = new(slog.LevelVar)
	sampleRate   int32 = 1 // 1 = log everything; N = log 1 in N warnings/errors
	shutdownFunc func(context.Context) error
)

// Counters exposed on the server's stats endpoint.
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64
)

// Init configures the global logger from the environment. Call once at
// process start; returns a shutdown hook for the OTLP exporter (a no-op
// when OTEL is disabled).
func Init(serviceName string) func(context.Context) error {
	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		programLevel.Set(level)
	} else {
		programLevel.Set(slog.LevelInfo)
	}

	if s := os.Getenv("ERROR_SAMPLE_RATE"); s != "" {
		if rate, err := strconv.Atoi(s); err == nil && rate > 0 {
			atomic.StoreInt32(&sampleRate, int32(rate))
		}
	}

	if strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true") {
		shutdown, err := setupOTEL(context.Background(), serviceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "OTEL setup failed, falling back to JSON logging: %v\n", err)
			setupJSON()
		} else {
			shutdownFunc = shutdown
		}
	} else {
		setupJSON()
	}

	return Shutdown
}

func setupJSON() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func setupOTEL(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	handler := &levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	return provider.Shutdown, nil
}

// levelHandler filters an underlying handler by the configured level.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTLP exporter if one is configured.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level.
func SetLevel(level slog.Level) { programLevel.Set(level) }

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func shouldSample() bool {
	rate := atomic.LoadInt32(&sampleRate)
	return rate <= 1 || rand.Intn(int(rate)) == 0
}

// Debug logs a debug-level message, never sampled.
func Debug(msg string, args ...any) { logger().Debug(msg, args...) }

// Info logs an info-level message, never sampled.
func Info(msg string, args ...any) { logger().Info(msg, args...) }

// Warn logs a warning. The counter always increments; output is sampled.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		logger().Warn(msg, args...)
	}
}

// Error logs an error. The counter always increments; output is sampled.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		logger().Error(msg, args...)
	}
}

// Fatal logs at error level, flushes OTLP if configured, and exits.
func Fatal(msg string, args ...any) {
	logger().Error(msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

func logger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}
