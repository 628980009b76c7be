package system

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogLevelEnv raises or lowers the level of NewTestLogger, e.g.
// SESSIONCTL_TEST_LOG_LEVEL=debug go test ./...
const TestLogLevelEnv = "SESSIONCTL_TEST_LOG_LEVEL"

// NewTestLogger returns a development logger without stacktraces. Only
// warnings and errors are printed unless TestLogLevelEnv says otherwise.
func NewTestLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if v := os.Getenv(TestLogLevelEnv); v != "" {
		if lvl, err := zapcore.ParseLevel(v); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// NewObservedLogger returns a logger that records every entry at or above
// level, for tests asserting on log output.
func NewObservedLogger(level zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core).Sugar(), logs
}
