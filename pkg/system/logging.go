package system

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

// NewLogger builds the process logger. Production encoding is used unless debug
// is set; stacktraces are disabled for non-fatal levels to keep CLI output readable.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	// diagnostics go to stderr so command output on stdout stays machine-readable
	cfg.OutputPaths = []string{"stderr"}
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// LoggerOrDefault returns the first non-nil logger from the variadic args,
// falling back to the global zap.S() logger.
func LoggerOrDefault(log ...*zap.SugaredLogger) *zap.SugaredLogger {
	for _, l := range log {
		if l != nil {
			return l
		}
	}
	return zap.S()
}

// ContextWithLogger stores an invocation-scoped logger in ctx.
func ContextWithLogger(ctx context.Context, log *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// LoggerFromContext returns the invocation-scoped logger from ctx if present,
// otherwise the fallback.
func LoggerFromContext(ctx context.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return fallback
	}
	if l, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok && l != nil {
		return l
	}
	return fallback
}

// EnrichLoggerWithSession annotates log with the identity context fields that
// are set. The token itself is never logged.
func EnrichLoggerWithSession(log *zap.SugaredLogger, subject, orgID, projectID, workspaceID string) *zap.SugaredLogger {
	if log == nil {
		return nil
	}
	if subject != "" {
		log = log.With("subject", subject)
	}
	if orgID != "" {
		log = log.With("org", orgID)
	}
	if projectID != "" {
		log = log.With("project", projectID)
	}
	if workspaceID != "" {
		log = log.With("workspace", workspaceID)
	}
	return log
}
