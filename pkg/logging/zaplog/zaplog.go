package zaplog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config defines the zap logging backend configuration
type Config struct {
	Level      string `yaml:"level"`       // "debug", "info", "warn", "error"
	Format     string `yaml:"format"`      // "console" or "json"
	FilePath   string `yaml:"file_path"`   // optional rotating log file, in addition to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"` // log file rotation threshold
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns a console logger configuration at info level
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
	}
}

// Logger is a sprintf-style logger backed by zap. It satisfies the
// logging.Logger interface via its LogFuncs.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a zap-backed logger writing to stdout and, if configured,
// to a rotating log file.
func NewLogger(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default: // "console" or anything else
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if config.FilePath != "" {
		maxSize := config.MaxSizeMB
		if maxSize == 0 {
			maxSize = 50
		}
		maxBackups := config.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		})
		// File output is always JSON for machine consumption
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, fileSink, level))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))

	return &Logger{
		sugar: zapLogger.Sugar(),
	}, nil
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	err := l.sugar.Sync()
	if err != nil {
		return fmt.Errorf("failed to flush logger: %w", err)
	}
	return nil
}
