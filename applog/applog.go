package applog

import (
	"club-link/build"
	"context"
	"fmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

type Logger = zap.Logger

// LogEntry is a single buffered log record waiting to be written by an async sink.
type LogEntry struct {
	Entry  *zapcore.Entry
	Fields []zap.Field
}

const (
	asyncSinkBufferSize      = 4096
	asyncSinkShutdownTimeout = 2 * time.Second
)

var (
	globalLogger  = newConsoleLogger(zapcore.DebugLevel)
	asyncSinks    []*asyncSink
	logFile       *os.File
	acceptingLogs int32 = 1
)

func Debug(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func GetLogger() *Logger {
	return globalLogger
}

// LogStartupInfo writes the first entry of every run: build commit and the effective launch arguments.
func LogStartupInfo(launchArgs interface{}) {
	buildInfo := build.GetBuildInfo()
	buildCommit := "unknown"
	if buildInfo != nil && buildInfo.CommitHash != "" {
		buildCommit = buildInfo.CommitHash
	}

	Info("Application started",
		zap.String("buildCommit", buildCommit),
		zap.Any("launchArgs", launchArgs),
	)
}

// Initialize replaces the bootstrap console logger with one that writes both to stdout
// and to `<logPath>/peer_<memberId>.log`. When logPath is empty the `logs` directory
// under the working directory is used.
func Initialize(memberId int64, rawLogLevel int, logPath string) error {
	return InitializeNamed(fmt.Sprintf("peer_%d", memberId), rawLogLevel, logPath,
		zap.Int64("localMemberId", memberId))
}

// InitializeNamed is Initialize for processes that are not a chat member; the log file
// is `<logPath>/<name>.log` and fields are attached to every entry.
func InitializeNamed(name string, rawLogLevel int, logPath string, fields ...zap.Field) error {
	level := safeGetLogLevelOrDefault(rawLogLevel)

	if logPath == "" {
		workdir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}
		logPath = filepath.Join(workdir, "logs")
	}

	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilename := filepath.Join(logPath, name+".log")
	file, err := os.OpenFile(logFilename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilename, err)
	}
	logFile = file

	encoderConfig := getEncoderConfig()
	stdoutSink := newAsyncSink(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
		asyncSinkBufferSize,
	)
	fileSink := newAsyncSink(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), level),
		asyncSinkBufferSize,
	)
	asyncSinks = []*asyncSink{stdoutSink, fileSink}

	l := zap.New(zapcore.NewTee(stdoutSink, fileSink), zap.AddCaller()).With(fields...)

	setLogger(l)
	atomic.StoreInt32(&acceptingLogs, 1)
	return nil
}

// LogExit records how a binary ended: through cancellation of ctx or on its own.
func LogExit(ctx context.Context, appName string) {
	if err := ctx.Err(); err != nil {
		Info(fmt.Sprintf("%s exited; context cancelled", appName), zap.Error(err))
		return
	}
	Info(fmt.Sprintf("%s exited", appName))
}

// Shutdown stops accepting new entries and drains buffered ones. Safe to call more than once.
func Shutdown() {
	if !atomic.CompareAndSwapInt32(&acceptingLogs, 1, 0) {
		return
	}

	_ = globalLogger.Sync()
	for _, sink := range asyncSinks {
		sink.Shutdown(asyncSinkShutdownTimeout)
	}
	asyncSinks = nil

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func safeGetLogLevelOrDefault(rawLogLevel int) zapcore.Level {
	level := zapcore.Level(rawLogLevel)
	if level < zapcore.DebugLevel || level > zapcore.FatalLevel {
		return zapcore.InfoLevel
	}
	return level
}

func getEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339)) // Ensure UTC
	}
	return encoderConfig
}

func newConsoleLogger(level zapcore.Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(getEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

func setLogger(l *Logger) {
	globalLogger = l
	zap.ReplaceGlobals(globalLogger)
}

// ReplaceLogger swaps the global logger, typically for an observer in tests, and returns
// a function restoring the previous one.
func ReplaceLogger(l *Logger) func() {
	previous := globalLogger
	setLogger(l)
	return func() {
		setLogger(previous)
	}
}
