package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar       atomic.Pointer[zap.SugaredLogger]
)

func init() {
	sugar.Store(newSugar(consoleEncoder(), zapcore.Lock(os.Stdout)))
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	l, err := ParseLevel(level)
	if err != nil {
		return
	}
	atomicLevel.SetLevel(l.zapLevel())
}

// IsDebug reports whether DEBUG messages are currently emitted.
func IsDebug() bool {
	return atomicLevel.Enabled(zapcore.DebugLevel)
}

// Configure replaces the output sink and encoding.
//
// format is "text" or "json"; output is "stdout", "stderr" or a file path
// (opened in append mode).
func Configure(level, format, output string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "text":
		encoder = consoleEncoder()
	case "json":
		encoder = jsonEncoder()
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	var sink zapcore.WriteSyncer
	switch output {
	case "", "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log output %s: %w", output, err)
		}
		sink = zapcore.Lock(f)
	}

	atomicLevel.SetLevel(l.zapLevel())
	old := sugar.Swap(newSugar(encoder, sink))
	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// Sync flushes buffered log entries.
func Sync() error {
	return sugar.Load().Sync()
}

func newSugar(encoder zapcore.Encoder, sink zapcore.WriteSyncer) *zap.SugaredLogger {
	core := zapcore.NewCore(encoder, sink, atomicLevel)
	return zap.New(core).Sugar()
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func consoleEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(encoderConfig())
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(encoderConfig())
}

func Debug(format string, v ...any) {
	sugar.Load().Debugf(format, v...)
}

func Info(format string, v ...any) {
	sugar.Load().Infof(format, v...)
}

func Warn(format string, v ...any) {
	sugar.Load().Warnf(format, v...)
}

func Error(format string, v ...any) {
	sugar.Load().Errorf(format, v...)
}
