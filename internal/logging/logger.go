// Package logging wraps log/slog with level parsing, optional file rotation
// and package-level convenience functions so the rest of the codebase does
// not have to thread a logger through every call site.
package logging

/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	File       string `yaml:"file"`        // log file path (optional)
	MaxSize    int    `yaml:"max_size"`    // megabytes per rotated file
	MaxBackups int    `yaml:"max_backups"` // rotated files to keep
	MaxAge     int    `yaml:"max_age"`     // days
	Console    bool   `yaml:"console"`     // also log to stderr
	JSON       bool   `yaml:"json"`        // JSON handler instead of text
}

// Logger wraps slog with configuration and lifecycle management.
type Logger struct {
	config *Config
	file   io.WriteCloser
	logger *slog.Logger
}

var globalLogger *Logger

// Initialize sets up the global logger. Passing nil yields an info-level
// console logger.
func Initialize(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{Level: "info", Console: true}
	}
	globalLogger = &Logger{config: cfg}
	return globalLogger.configure()
}

// GetLogger returns the global logger, initializing a default console logger
// on first use if Initialize was never called.
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = &Logger{config: &Config{Level: "info", Console: true}}
		_ = globalLogger.configure()
	}
	return globalLogger
}

func (l *Logger) configure() error {
	level := parseLevel(l.config.Level)

	var writers []io.Writer
	if l.config.Console {
		writers = append(writers, os.Stderr)
	}
	if l.config.File != "" {
		if l.file != nil {
			l.file.Close()
		}
		rotator := &lumberjack.Logger{
			Filename:   l.config.File,
			MaxSize:    l.config.MaxSize,
			MaxBackups: l.config.MaxBackups,
			MaxAge:     l.config.MaxAge,
			Compress:   true,
		}
		l.file = rotator
		writers = append(writers, rotator)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if l.config.JSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	l.logger = slog.New(handler)
	slog.SetDefault(l.logger)
	return nil
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Reload reconfigures the logger with new settings.
func (l *Logger) Reload(cfg *Config) error {
	l.config = cfg
	return l.configure()
}

// Close closes any open log file handle.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Underlying returns the wrapped *slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.logger
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *Logger) Debugf(format string, v ...interface{}) { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l *Logger) Infof(format string, v ...interface{})  { l.logger.Info(fmt.Sprintf(format, v...)) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.logger.Error(fmt.Sprintf(format, v...)) }

// Fatal logs at error level and exits.
func (l *Logger) Fatal(msg string, args ...any) {
	l.logger.Error(msg, args...)
	os.Exit(1)
}

// Fatalf logs a formatted message at error level and exits.
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

// With returns a logger with the given attributes added.
func (l *Logger) With(args ...any) *slog.Logger {
	return l.logger.With(args...)
}

// WithError returns a logger with an error field.
func (l *Logger) WithError(err error) *slog.Logger {
	return l.logger.With(slog.Any("error", err))
}

// Package-level convenience functions delegating to the global logger.

func Debug(msg string, args ...any) { GetLogger().Debug(msg, args...) }
func Info(msg string, args ...any)  { GetLogger().Info(msg, args...) }
func Warn(msg string, args ...any)  { GetLogger().Warn(msg, args...) }
func Error(msg string, args ...any) { GetLogger().Error(msg, args...) }

func Debugf(format string, v ...interface{}) { GetLogger().Debugf(format, v...) }
func Infof(format string, v ...interface{})  { GetLogger().Infof(format, v...) }
func Warnf(format string, v ...interface{})  { GetLogger().Warnf(format, v...) }
func Errorf(format string, v ...interface{}) { GetLogger().Errorf(format, v...) }

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) { GetLogger().Fatal(msg, args...) }

// Fatalf logs a formatted message at error level and exits.
func Fatalf(format string, v ...interface{}) { GetLogger().Fatalf(format, v...) }

// Printf implements a log.Printf compatible interface at info level.
func Printf(format string, v ...interface{}) { GetLogger().Infof(format, v...) }

// Println implements a log.Println compatible interface at info level.
func Println(v ...interface{}) { GetLogger().Info(fmt.Sprint(v...)) }

// With returns a logger with the given attributes added.
func With(args ...any) *slog.Logger { return GetLogger().With(args...) }

// WithError returns a logger with an error field.
func WithError(err error) *slog.Logger { return GetLogger().WithError(err) }
