package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents the severity of a log message
type Level int

const (
	// LevelDebug for detailed troubleshooting
	LevelDebug Level = iota
	// LevelInfo for general operational entries
	LevelInfo
	// LevelWarn for non-critical issues
	LevelWarn
	// LevelError for errors that should be addressed
	LevelError
)

var (
	// Default logger. Writes to stderr: stdout carries the stdio transport.
	logger   = newLogrus(os.Stderr)
	logLevel = LevelInfo

	logFile *os.File
)

func newLogrus(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Initialize sets up the logger with the specified level
func Initialize(level string) {
	logger = newLogrus(os.Stderr)
	setLogLevel(level)
}

// InitializeWithFile sets up the logger and mirrors every entry into path.
func InitializeWithFile(level, path string) error {
	Initialize(level)
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// Close releases the log file opened by InitializeWithFile, if any.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	logger.SetOutput(os.Stderr)
	return err
}

// setLogLevel sets the log level from a string
func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

func logMessage(level Level, format string, v ...interface{}) {
	if level < logLevel {
		return
	}

	switch level {
	case LevelDebug:
		logger.Debugf(format, v...)
	case LevelInfo:
		logger.Infof(format, v...)
	case LevelWarn:
		logger.Warnf(format, v...)
	case LevelError:
		logger.Errorf(format, v...)
	}
}

// Debug logs a debug message
func Debug(format string, v ...interface{}) {
	logMessage(LevelDebug, format, v...)
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	logMessage(LevelInfo, format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	logMessage(LevelWarn, format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	logMessage(LevelError, format, v...)
}

// ErrorWithStack logs an error with a stack trace
func ErrorWithStack(err error) {
	if err == nil {
		return
	}
	logMessage(LevelError, "%v\n%s", err, debug.Stack())
}

// WithField returns an entry carrying a structured field, for call sites that
// log the same key repeatedly (connection IDs, tool names).
func WithField(key string, value interface{}) *logrus.Entry {
	return logger.WithField(key, value)
}

// StdLogger adapts the logger for libraries that want a *log.Logger.
// Everything written through it is logged at error level.
func StdLogger() *log.Logger {
	return log.New(logger.WriterLevel(logrus.ErrorLevel), "", 0)
}
