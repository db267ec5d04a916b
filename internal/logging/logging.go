// Package logging builds the process logger: JSON to a rotated file and a
// human-readable console stream on stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// File is the rotated JSON log path. Empty disables the file core.
	File string `yaml:"file"`
	// Console enables the stderr core.
	Console bool `yaml:"console"`
	// JSONConsole switches the console core to JSON.
	JSONConsole bool `yaml:"json_console"`
	// MaxSizeMB, MaxBackups and MaxAgeDays tune rotation.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// DefaultConfig returns console-only logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// New builds a logger from cfg. With neither a file nor the console
// enabled it returns a no-op logger.
func New(cfg Config) (*zap.Logger, error) {
	return build(cfg, os.Stderr)
}

func build(cfg Config, console io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var cores []zapcore.Core

	if cfg.File != "" {
		rotator := NewRotator(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	if cfg.Console {
		consoleEncoder := jsonEncoder
		if !cfg.JSONConsole {
			consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(console)), level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// NewRotator returns a size-rotated, gzip-compressing file writer. Zero
// values select 10MB, 5 backups and 30 days.
func NewRotator(path string, maxSizeMB, maxBackups, maxAgeDays int) *lumberjack.Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zap.InfoLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
