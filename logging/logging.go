package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Plugin is one log destination.
type Plugin = zapcore.Core

// DefaultEncoderConfig is the production config with capitalised levels
// and ISO 8601 timestamps.
func DefaultEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// DefaultEncoder writes JSON lines.
func DefaultEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(DefaultEncoderConfig())
}

// DefaultOptions adds the caller and records stack traces from DPanic up.
func DefaultOptions() []zap.Option {
	var stackTraceLevel zap.LevelEnablerFunc = func(level zapcore.Level) bool {
		return level >= zapcore.DPanicLevel
	}
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(stackTraceLevel),
	}
}

// NewLogger builds a logger from one or more plugins.
func NewLogger(plugins []Plugin, options ...zap.Option) *zap.Logger {
	return zap.New(zapcore.NewTee(plugins...), append(DefaultOptions(), options...)...)
}

// NewPlugin writes to writer at the levels enabler allows.
func NewPlugin(writer zapcore.WriteSyncer, enabler zapcore.LevelEnabler) Plugin {
	return zapcore.NewCore(DefaultEncoder(), writer, enabler)
}

// NewStderrPlugin logs to standard error, keeping standard output free for
// command results.
func NewStderrPlugin(enabler zapcore.LevelEnabler) Plugin {
	return NewPlugin(zapcore.Lock(zapcore.AddSync(os.Stderr)), enabler)
}

// NewFilePlugin logs to a rotated file. lumberjack does not expose Sync, so
// the returned closer must be closed before exit to flush the file.
func NewFilePlugin(path string, enabler zapcore.LevelEnabler) (Plugin, io.Closer) {
	writer := DefaultLumberjackLogger()
	writer.Filename = path
	return NewPlugin(zapcore.AddSync(writer), enabler), writer
}

// DefaultLumberjackLogger rotates at 50 MB and keeps compressed backups
// for 30 days.
func DefaultLumberjackLogger() *lumberjack.Logger {
	return &lumberjack.Logger{
		MaxSize:   50,
		MaxAge:    30,
		LocalTime: true,
		Compress:  true,
	}
}

// Options selects the level and optional file destination.
type Options struct {
	Level string
	File  string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger. Logs always go to stderr and additionally
// to Options.File when set. The closer must be closed on exit.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	plugins := []Plugin{NewStderrPlugin(level)}
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		plugin, c := NewFilePlugin(opts.File, level)
		plugins = append(plugins, plugin)
		closer = c
	}

	return NewLogger(plugins), closer, nil
}
