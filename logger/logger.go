package logger

import (
	"io"
	"os"
	"sync/atomic"

	"smartbch-indexer/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	sugar atomic.Pointer[zap.SugaredLogger]
)

const (
	timeFormat = "[01-02|15:04:05.000]"
)

func init() {
	sugar.Store(createSugaredLogger(DefaultLoggerConfig()))

	config.GlobalConfigCallback.AddCallback(func(config config.GlobalConfig) {
		sugar.Store(createSugaredLogger(config.LoggerConfig()))
	})
}

func createSugaredLogger(config config.LoggerConfig) *zap.SugaredLogger {
	atom := zap.NewAtomicLevel()

	var cores []zapcore.Core
	if config.Console {
		cores = append(cores, createConsoleLoggerCore(os.Stdout, atom))
	}

	if len(config.File) > 0 {
		cores = append(cores, createFileLoggerCore(config, atom))
	}

	core := zapcore.NewTee(cores...)

	logger := zap.New(
		core,
		zap.AddStacktrace(zap.ErrorLevel),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)

	sug := logger.Sugar()

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		sug.Errorf("Wrong level %s", config.Level)
		level = zapcore.InfoLevel
	}

	atom.SetLevel(level)
	sug.Debugf("Set log level to %s", level)

	return sug
}

// SetOutput replaces the global logger with a single console core writing to
// w. Tests use it to keep worker output out of the terminal.
func SetOutput(w io.Writer, level string) {
	atom := zap.NewAtomicLevel()
	if l, err := zapcore.ParseLevel(level); err == nil {
		atom.SetLevel(l)
	}
	sugar.Store(zap.New(createConsoleLoggerCore(w, atom), zap.AddCallerSkip(1)).Sugar())
}

func SyncFileLogger() {
	s := sugar.Load()
	s.Infof("Syncing file logger.")
	err := s.Sync()
	if err != nil {
		s.Infof("Failed to sync logger: %v", err)
	}
}

func createFileLoggerCore(config config.LoggerConfig, atom zap.AtomicLevel) zapcore.Core {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxFileSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
	})

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = fileLevelEncoder
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)

	var encoder zapcore.Encoder
	if config.JSON {
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	return zapcore.NewCore(encoder, w, atom)
}

type noSyncWriterWrapper struct {
	io.Writer
}

func (n noSyncWriterWrapper) Sync() error {
	return nil
}

func createConsoleLoggerCore(w io.Writer, atom zap.AtomicLevel) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = consoleColorLevelEncoder
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)

	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		noSyncWriterWrapper{w},
		atom,
	)
}

func DefaultLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:   "DEBUG",
		Console: true,
	}
}

func Warn(msg string, args ...interface{}) {
	sugar.Load().Warnf(msg, args...)
}

func Error(msg string, args ...interface{}) {
	sugar.Load().Errorf(msg, args...)
}

func Info(msg string, args ...interface{}) {
	sugar.Load().Infof(msg, args...)
}

func Debug(msg string, args ...interface{}) {
	sugar.Load().Debugf(msg, args...)
}

func Fatal(msg string, args ...interface{}) {
	SyncFileLogger()
	sugar.Load().Fatalf(msg, args...)
}
