package logger

import (
	"context"
	"fmt"
	"io"
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

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

// Config selects the log backend and its level and sampling
type Config struct {
	Level       slog.Level
	SampleRate  int // log 1 in SampleRate warnings and errors; <= 1 logs all
	OTELEnabled bool
	ServiceName string
	Output      io.Writer // JSON handler destination; stdout when nil
}

// ConfigFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and OTEL_SERVICE_NAME
func ConfigFromEnv() Config {
	cfg := Config{
		Level:       LevelInfo,
		SampleRate:  100,
		ServiceName: "rule-engine",
	}
	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = level
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		cfg.SampleRate = rate
	}
	cfg.OTELEnabled = strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true"
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}
	return cfg
}

var (
	programLevel = new(slog.LevelVar)
	sampleRate   atomic.Int32
	shutdownFunc func(context.Context) error
)

// Counters exported on the stats endpoint. They are incremented regardless of sampling.
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total4xxErrors atomic.Int64
	Total5xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	SlowRequests   atomic.Int64
)

func init() {
	programLevel.Set(LevelInfo)
	sampleRate.Store(1)
}

// Setup builds the process logger, installs it as the slog default and returns it.
// When OTEL setup fails the JSON handler is used instead.
func Setup(ctx context.Context, cfg Config) *slog.Logger {
	programLevel.Set(cfg.Level)
	rate := cfg.SampleRate
	if rate < 1 {
		rate = 1
	}
	sampleRate.Store(int32(rate))

	var base slog.Handler
	if cfg.OTELEnabled {
		handler, shutdown, err := setupOTELLogging(ctx, cfg.ServiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
		} else {
			base = handler
			shutdownFunc = shutdown
		}
	}
	if base == nil {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		base = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: programLevel})
	}

	l := slog.New(&samplingHandler{level: programLevel, handler: base})
	slog.SetDefault(l)
	return l
}

// setupOTELLogging bridges slog records to an OTLP gRPC exporter
func setupOTELLogging(ctx context.Context, serviceName string) (slog.Handler, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	handler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)
	return handler, loggerProvider.Shutdown, nil
}

// samplingHandler filters by level, counts warnings and errors, and
// drops all but one in sampleRate of them
type samplingHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *samplingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	switch {
	case r.Level >= LevelFatal:
		// never sampled
	case r.Level >= LevelError:
		TotalErrors.Add(1)
		if !shouldSample() {
			return nil
		}
	case r.Level >= LevelWarning:
		TotalWarnings.Add(1)
		if !shouldSample() {
			return nil
		}
	}
	return h.handler.Handle(ctx, r)
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Shutdown flushes the OTEL provider, if one was set up
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", levelStr)
	}
}

// Fatal logs at fatal level, flushes OTEL and exits
func Fatal(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// ============================================================================
// HTTP-Specific Helpers
// ============================================================================

// CountHTTPStatus bumps the 4xx/5xx counters for a response status
func CountHTTPStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		switch status {
		case 400:
			Total400Errors.Add(1)
		case 404:
			Total404Errors.Add(1)
		}
	}
}

// CountSlowRequest records a request that exceeded the slow threshold
func CountSlowRequest() {
	SlowRequests.Add(1)
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Errors       int64 `json:"errors"`
	Warnings     int64 `json:"warnings"`
	HTTP4xx      int64 `json:"http4xx"`
	HTTP5xx      int64 `json:"http5xx"`
	HTTP400      int64 `json:"http400"`
	HTTP404      int64 `json:"http404"`
	SlowRequests int64 `json:"slowRequests"`
}

// Snapshot reads every counter
func Snapshot() Stats {
	return Stats{
		Errors:       TotalErrors.Load(),
		Warnings:     TotalWarnings.Load(),
		HTTP4xx:      Total4xxErrors.Load(),
		HTTP5xx:      Total5xxErrors.Load(),
		HTTP400:      Total400Errors.Load(),
		HTTP404:      Total404Errors.Load(),
		SlowRequests: SlowRequests.Load(),
	}
}
