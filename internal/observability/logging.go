package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. LogFormat "console" gives a
// human-readable development encoder; anything else logs JSON to stdout.
//
// Levels:
//   - error: infrastructure failures and 5xx responses
//   - warn:  4xx responses, open circuit breaker, skipped malformed documents
//   - info:  requests, sign-ins, orders, catalog reloads
//   - debug: backend calls, cache and debounce details
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoding := "json"
	encodeLevel := zapcore.LowercaseLevelEncoder
	if cfg.LogFormat == "console" {
		encoding = "console"
		encodeLevel = zapcore.LowercaseColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: encoding == "console",
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger with the shopper and correlation
// fields of the request attached.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

var defaultSensitiveFields = map[string]bool{
	"password":      true,
	"new_password":  true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"card_number":   true,
	"cvv":           true,
}

// RedactBody returns a copy of body with sensitive fields replaced by
// "[REDACTED]". Nested objects are redacted too. Debug logging only.
func RedactBody(body map[string]any, sensitiveFields []string) map[string]any {
	if body == nil {
		return nil
	}

	redact := make(map[string]bool, len(defaultSensitiveFields)+len(sensitiveFields))
	for k := range defaultSensitiveFields {
		redact[k] = true
	}
	for _, f := range sensitiveFields {
		redact[f] = true
	}

	out := make(map[string]any, len(body))
	for k, v := range body {
		switch {
		case redact[k]:
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = RedactBody(nested, sensitiveFields)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
