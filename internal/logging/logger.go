// Package logging provides structured logging for the FieldSync engine.
// The process-wide logger is backed by logrus with a JSON formatter; console
// output is one sink, an optional size-rotated file is another.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the global logger.
type Options struct {
	Level    string // debug, info, warn, error
	FilePath string // optional rotating log file; empty means console only
}

var (
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. Safe to call more than once; only the
// first call takes effect.
func Init(opts Options) {
	once.Do(func() {
		global = build(opts)
	})
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() *logrus.Logger {
	if global == nil {
		Init(Options{Level: "info"})
	}
	return global
}

func build(opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var out io.Writer = os.Stdout
	if opts.FilePath != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logger.SetOutput(out)

	return logger
}

// Fields is shorthand for structured log context.
type Fields = logrus.Fields

// Convenience functions using the global logger.

func Debug(message string, fields Fields) {
	Get().WithFields(fields).Debug(message)
}

func Info(message string, fields Fields) {
	Get().WithFields(fields).Info(message)
}

func Warn(message string, fields Fields) {
	Get().WithFields(fields).Warn(message)
}

func Error(message string, err error, fields Fields) {
	entry := Get().WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// ErrorWithCode logs an error together with its stable error code.
func ErrorWithCode(message string, code string, err error, fields Fields) {
	entry := Get().WithFields(fields).WithField("error_code", code)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
