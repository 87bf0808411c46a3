// Package log configures the process-wide logrus logger (ambient
// stack): level, prefixed text formatting via x-cray's
// logrus-prefixed-formatter, and optional file rotation via
// lumberjack, following the teacher's go.mod-declared logging stack
// (internal/log carries both a slog- and a logrus-based
// implementation in the teacher repo; logrus is the one actually
// listed as a direct dependency, so it's the one kept here).
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sirupsen/logrus"
)

// Config tunes the logger (spec.md §6's logging configuration keys).
type Config struct {
	Level      string // debug/info/warn/error
	File       string // path to a rotated log file; empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Stdout     bool
}

func (c Config) withDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 100
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 28
	}
	return c
}

// New builds a configured *logrus.Logger.
func New(cfg Config) (*logrus.Logger, error) {
	cfg = cfg.withDefaults()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log: invalid level %q: %w", cfg.Level, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&prefixed.TextFormatter{
		DisableColors:   cfg.File != "" && !cfg.Stdout,
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})

	var writers []io.Writer
	if cfg.Stdout || cfg.File == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}
