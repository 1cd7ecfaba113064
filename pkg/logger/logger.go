package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	mu   sync.RWMutex
	sink = newSink(level)
)

func newSink(enab zapcore.LevelEnabler) *zap.SugaredLogger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stdout), enab)
	return zap.New(core).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sink
}

// Use replaces the underlying zap logger. The level set through SetLevel
// still gates messages before they reach l.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	sink = l.Sugar()
}

// SetLevel sets the minimum log level that will be printed
func SetLevel(l LogLevel) {
	switch l {
	case DebugLevel:
		level.SetLevel(zapcore.DebugLevel)
	case WarnLevel:
		level.SetLevel(zapcore.WarnLevel)
	case ErrorLevel:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// SetLevelFromString sets the log level from a string (debug, info, warn, error)
func SetLevelFromString(l string) {
	switch strings.ToLower(l) {
	case "debug":
		SetLevel(DebugLevel)
	case "info":
		SetLevel(InfoLevel)
	case "warn", "warning":
		SetLevel(WarnLevel)
	case "error":
		SetLevel(ErrorLevel)
	default:
		Warn("Unknown log level %s, using info", l)
		SetLevel(InfoLevel)
	}
}

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	if level.Enabled(zapcore.DebugLevel) {
		current().Debugf(format, v...)
	}
}

// Info logs an informational message
func Info(format string, v ...interface{}) {
	if level.Enabled(zapcore.InfoLevel) {
		current().Infof(format, v...)
	}
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	if level.Enabled(zapcore.WarnLevel) {
		current().Warnf(format, v...)
	}
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	if level.Enabled(zapcore.ErrorLevel) {
		current().Errorf(format, v...)
	}
}

// Fatal logs a fatal error and exits
func Fatal(format string, v ...interface{}) {
	current().Errorf("[FATAL] "+format, v...)
	_ = current().Sync()
	os.Exit(1)
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}

// WithPrefix returns a logger with a prefix
func WithPrefix(prefix string) *PrefixLogger {
	return &PrefixLogger{prefix: prefix}
}

// PrefixLogger adds a prefix to all log messages
type PrefixLogger struct {
	prefix string
}

func (l *PrefixLogger) Debug(format string, v ...interface{}) {
	Debug(l.prefix+format, v...)
}

func (l *PrefixLogger) Info(format string, v ...interface{}) {
	Info(l.prefix+format, v...)
}

func (l *PrefixLogger) Warn(format string, v ...interface{}) {
	Warn(l.prefix+format, v...)
}

func (l *PrefixLogger) Error(format string, v ...interface{}) {
	Error(l.prefix+format, v...)
}

func (l *PrefixLogger) Fatal(format string, v ...interface{}) {
	Fatal(l.prefix+format, v...)
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	switch level.Level() {
	case zapcore.DebugLevel:
		return "debug"
	case zapcore.InfoLevel:
		return "info"
	case zapcore.WarnLevel:
		return "warn"
	case zapcore.ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func init() {
	// Read log level from environment
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		SetLevelFromString(l)
	}
}
