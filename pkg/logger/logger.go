package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is a no-op logger until Init is called, so packages stay usable in tests.
var (
	Log = zap.NewNop()
	// facade skips one frame so callers of Info/Warn/... are reported, not this file.
	facade = Log
)

func Init(level, format, outputPath string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch outputPath {
	case "", "stdout":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, zapLevel)
	Log = zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", "missbott-backend")),
	)
	facade = Log.WithOptions(zap.AddCallerSkip(1))

	return nil
}

// GetLogger returns the process logger for components that take a *zap.Logger.
func GetLogger() *zap.Logger {
	return Log
}

// Named returns a child logger scoped to a component.
func Named(name string) *zap.Logger {
	return Log.Named(name)
}

func Info(msg string, fields ...zap.Field) {
	facade.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	facade.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	facade.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	facade.Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	facade.Fatal(msg, fields...)
}

func Sync() {
	_ = Log.Sync()
}
