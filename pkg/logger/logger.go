package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
)

// Options selects where log output goes and how verbose it is.
type Options struct {
	// Level is one of debug, info, warn, error. Empty falls back to the
	// NITROSHARE_LOG_LEVEL / LOG_LEVEL environment variables, then info.
	Level string
	// File, when set, receives all log output. Its directory is created.
	File string
	// Stderr tees output to stderr in addition to File.
	Stderr bool
}

func init() {
	core := zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), levelFrom(""))
	set(zap.New(core, zap.AddCaller()))
}

// Configure replaces the global loggers according to opts.
func Configure(opts Options) error {
	level := levelFrom(opts.Level)

	var cores []zapcore.Core
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.AddSync(file), level))
	}
	if opts.File == "" || opts.Stderr {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), level))
	}

	// AddCaller ensures the log includes filename and line number
	set(zap.New(zapcore.NewTee(cores...), zap.AddCaller()))
	return nil
}

// Use installs l as the global logger. Tests use it with zap.NewNop or an
// observer core.
func Use(l *zap.Logger) {
	set(l)
}

func set(l *zap.Logger) {
	Log = l
	Sugar = l.Sugar()
}

func newEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// Console encoding keeps the file readable; switch to JSON if the logs
	// are ever shipped somewhere for parsing.
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func levelFrom(levelStr string) zapcore.Level {
	level := zapcore.InfoLevel
	levelStr = strings.TrimSpace(levelStr)
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("NITROSHARE_LOG_LEVEL"))
	}
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}
	return level
}
