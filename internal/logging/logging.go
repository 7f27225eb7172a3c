// Package logging configures the shared logrus logger for the connector.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger output and verbosity.
type Config struct {
	Level string `yaml:"level"`
	// File enables rotated file output alongside stderr when non-empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

var (
	base *logrus.Logger
	once sync.Once
)

// Init applies the configuration to the shared logger. Safe to call once at
// startup; later component loggers inherit the settings.
func Init(cfg Config) {
	logger := root()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}
}

// Component returns a logger entry tagged with the originating component.
func Component(name string) *logrus.Entry {
	return root().WithField("component", name)
}

func root() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetLevel(logrus.InfoLevel)
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	})
	return base
}
