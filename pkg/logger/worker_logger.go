// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config for logger
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // console or json
	File    string // optional rotating log file
	Service string
	Output  io.Writer
}

var (
	mu            sync.RWMutex
	defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
)

// Init builds the default logger from cfg and returns it. It may be called
// again once configuration is loaded.
func Init(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	if cfg.Service == "" {
		cfg.Service = "triage"
	}

	l := zerolog.New(out).Level(ParseLevel(cfg.Level)).
		With().Timestamp().Str("service", cfg.Service).Logger()

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	return l
}

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Default returns the default logger
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Default().With().Str("component", name).Logger()
}

// Package-level printf helpers for bootstrap code.
func Debug(msg string, args ...any) { l := Default(); l.Debug().Msgf(msg, args...) }
func Info(msg string, args ...any)  { l := Default(); l.Info().Msgf(msg, args...) }
func Warn(msg string, args ...any)  { l := Default(); l.Warn().Msgf(msg, args...) }
func Error(msg string, args ...any) { l := Default(); l.Error().Msgf(msg, args...) }
func Fatal(msg string, args ...any) { l := Default(); l.Fatal().Msgf(msg, args...) }
