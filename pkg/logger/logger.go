package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the tracker's structured logger
type Logger struct {
	*zap.Logger
}

// LogLevel is a configured verbosity
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

var zapLevels = map[LogLevel]zapcore.Level{
	DebugLevel: zapcore.DebugLevel,
	InfoLevel:  zapcore.InfoLevel,
	WarnLevel:  zapcore.WarnLevel,
	ErrorLevel: zapcore.ErrorLevel,
}

// Config selects level, encoding and the optional log file
type Config struct {
	Level       LogLevel `mapstructure:"level"`
	Environment string   `mapstructure:"environment"`
	Encoding    string   `mapstructure:"encoding"` // json or console

	// FilePath adds a rotating JSON log file alongside stdout
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func (c Config) production() bool { return c.Environment == "production" }

// New builds a logger writing to stdout and, if FilePath is set, to a
// rotated file
func New(cfg Config) (*Logger, error) {
	level, ok := zapLevels[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
		if cfg.production() {
			encoding = "json"
		}
	}

	stdout := encoderConfig(cfg.production())
	var enc zapcore.Encoder
	if encoding == "json" {
		enc = zapcore.NewJSONEncoder(stdout)
	} else {
		enc = zapcore.NewConsoleEncoder(stdout)
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig(true)),
			zapcore.AddSync(rotator(cfg)),
			level,
		))
	}

	return &Logger{Logger: zap.New(zapcore.NewTee(cores...), zap.AddCaller())}, nil
}

func encoderConfig(production bool) zapcore.EncoderConfig {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if production {
		ec = zap.NewProductionEncoderConfig()
	}
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

func rotator(cfg Config) *lumberjack.Logger {
	size := cfg.MaxSizeMB
	if size <= 0 {
		size = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    size,
		MaxBackups: 30,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ParseLevel maps a config string to a LogLevel, defaulting to info
func ParseLevel(level string) LogLevel {
	l := LogLevel(strings.ToLower(strings.TrimSpace(level)))
	if l == "warning" {
		return WarnLevel
	}
	if _, ok := zapLevels[l]; ok {
		return l
	}
	return InfoLevel
}

// WithFields adds fields to every entry
func (l *Logger) WithFields(fields map[string]any) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{Logger: l.Logger.With(zf...)}
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String(key, value))}
}

// WithComponent names the subsystem writing the entry
func (l *Logger) WithComponent(component string) *Logger { return l.with("component", component) }

// WithSessionID tags entries with a tracking session
func (l *Logger) WithSessionID(sessionID string) *Logger { return l.with("session_id", sessionID) }

// WithDriverID tags entries with the driver being tracked
func (l *Logger) WithDriverID(driverID string) *Logger { return l.with("driver_id", driverID) }

var global atomic.Pointer[Logger]

// SetGlobalLogger installs the process-wide fallback logger
func SetGlobalLogger(l *Logger) {
	global.Store(l)
}

// GetGlobalLogger returns the installed logger, or a no-op one
func GetGlobalLogger() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return NewNop()
}
