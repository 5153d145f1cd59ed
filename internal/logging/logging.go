// Package logging builds the zap logger every msys component logs
// through, writing structured JSON both to stdout and to a rotating-free
// log file under a configured directory — the Go analogue of the
// original's glog-backed loggerInitialize/loggerDeinitialize.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with its sugared counterpart, matching the
// monitor package's convenience shape.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New creates a Logger at the given level, writing to both stdout and a
// "msys.log" file under dir. dir is created if it doesn't exist. level is
// parsed the same way zapcore.Level.UnmarshalText does ("debug", "info",
// "warn", "error", ...).
func New(level, dir string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", level, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(dir, "msys.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewJSONEncoder(encCfg)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), zapLevel),
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(logFile)), zapLevel),
	)

	zapLogger := zap.New(core, zap.AddCaller())
	return &Logger{Logger: zapLogger, SugaredLogger: zapLogger.Sugar()}, nil
}

// Flush syncs any buffered log entries. Call it once during shutdown,
// after every System has been halted.
func Flush(l *Logger) {
	if l == nil {
		return
	}
	// zap.Sync can harmlessly fail on stdout/stderr (e.g. "invalid
	// argument" on some platforms); there's nothing actionable to do with
	// that error here.
	_ = l.Logger.Sync()
}

// StartupFields returns a few standard fields worth attaching to the
// first log line a process emits: process start time and PID.
func StartupFields() []zap.Field {
	return []zap.Field{
		zap.Time("started_at", time.Now()),
		zap.Int("pid", os.Getpid()),
	}
}
