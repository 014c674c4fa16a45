package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/streamline/internal/config"
)

// Logger appends structured lines to .streamline/logs/streamline.log so users
// can inspect remote failures after the shell has exited.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
	file  *os.File
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, debug bool) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.Dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "streamline.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), level)
	return wrap(zap.New(core), f), nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return wrap(zap.NewNop(), nil)
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return wrap(l, nil)
}

func wrap(l *zap.Logger, f *os.File) *Logger {
	return &Logger{zap: l, sugar: l.Sugar(), file: f}
}

// Close flushes buffered entries and releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.zap == nil {
		return nil
	}
	_ = l.zap.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Zap exposes the structured logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(name string) *Logger {
	if l == nil || l.zap == nil {
		return Nop()
	}
	return &Logger{zap: l.zap.Named(name), sugar: l.sugar.Named(name), file: nil}
}

// Printf writes a single info line. Lines that start with "error" or contain
// "failed" are logged at warn level.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	lower := strings.ToLower(line)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") || strings.Contains(lower, "rejected") {
		l.sugar.Warn(line)
		return
	}
	l.sugar.Info(line)
}
