package applog

import (
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestInitializeCreatesLogFileInGivenPath(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "peer-logs")
	memberId := int64(4242)

	err := Initialize(memberId, int(zapcore.InfoLevel), logDir)
	require.NoError(t, err, "could not initialize logger")
	t.Cleanup(Shutdown)

	expected := filepath.Join(logDir, fmt.Sprintf("peer_%d.log", memberId))
	_, err = os.Stat(expected)
	assert.NoError(t, err, fmt.Sprintf("expected log file to exist by path '%s'", expected))

	assert.Len(t, asyncSinks, 2, "expected stdout and file sinks")
	assert.Equal(t, int32(1), atomic.LoadInt32(&acceptingLogs))
}

func TestInitializeDefaultsToWorkingDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func(dir string) {
		_ = os.Chdir(dir)
	}(origWd)
	require.NoError(t, os.Chdir(tmpDir))

	require.NoError(t, Initialize(7, int(zapcore.DebugLevel), ""))
	t.Cleanup(Shutdown)

	_, err = os.Stat(filepath.Join(tmpDir, "logs", "peer_7.log"))
	assert.NoError(t, err)
}

func TestLogLevelArg(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, safeGetLogLevelOrDefault(int(zap.DebugLevel)))
	assert.Equal(t, zap.InfoLevel, safeGetLogLevelOrDefault(-2))
	assert.Equal(t, zap.WarnLevel, safeGetLogLevelOrDefault(int(zap.WarnLevel)))
	assert.Equal(t, zap.ErrorLevel, safeGetLogLevelOrDefault(int(zap.ErrorLevel)))
	assert.Equal(t, zap.FatalLevel, safeGetLogLevelOrDefault(int(zap.FatalLevel)))
	assert.Equal(t, zap.InfoLevel, safeGetLogLevelOrDefault(int(zapcore.FatalLevel)+1))
}

func TestNoEntriesAfterShutdown(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	setLogger(zap.New(core))
	atomic.StoreInt32(&acceptingLogs, 1)

	Info("before shutdown")
	Shutdown()
	assert.Equal(t, int32(0), atomic.LoadInt32(&acceptingLogs), "acceptingLogs should be 0 after Shutdown")

	Info("after shutdown")
	Warn("after shutdown")
	Error("after shutdown")
	Debug("after shutdown")

	entries := observed.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "before shutdown", entries[0].Message)
	}

	// Restore for other tests in the package.
	atomic.StoreInt32(&acceptingLogs, 1)
}

func TestLogStartupInfoWritesBuildCommit(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	setLogger(zap.New(core))
	atomic.StoreInt32(&acceptingLogs, 1)

	LogStartupInfo(map[string]string{"relay": "ws://localhost"})

	entries := observed.FilterMessage("Application started").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields, "buildCommit")
	assert.Contains(t, fields, "launchArgs")
}

func TestInitializeNamedUsesGivenFileName(t *testing.T) {
	logDir := t.TempDir()

	require.NoError(t, InitializeNamed("relay", int(zapcore.InfoLevel), logDir))
	t.Cleanup(Shutdown)

	_, err := os.Stat(filepath.Join(logDir, "relay.log"))
	assert.NoError(t, err)
}

func TestLogExit(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	setLogger(zap.New(core))
	atomic.StoreInt32(&acceptingLogs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	LogExit(ctx, "Relay")
	cancel()
	LogExit(ctx, "Relay")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Relay exited", entries[0].Message)
	assert.Equal(t, "Relay exited; context cancelled", entries[1].Message)
	assert.Contains(t, entries[1].ContextMap(), "error")
}
