package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState(t *testing.T) {
	t.Helper()
	CloseAll()
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	logsDir = ""
	workspace = ""
	cfg = loggingConfig{}
}

func TestConfigure_DisabledIsNoop(t *testing.T) {
	resetLoggingState(t)
	require.NoError(t, Configure("", false, "info", false, nil))
	assert.False(t, IsDebugMode())

	l := Get(CategoryEngine)
	assert.Nil(t, l.logger)
	l.Info("should not panic even though disabled")
}

func TestConfigure_EnabledCreatesLogFile(t *testing.T) {
	resetLoggingState(t)
	dir := t.TempDir()
	require.NoError(t, Configure(dir, true, "debug", false, nil))
	assert.True(t, IsDebugMode())

	l := Get(CategoryVectorStore)
	require.NotNil(t, l.logger)
	l.Info("hello %s", "world")

	entries, err := os.ReadDir(filepath.Join(dir, ".ifengine", "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestIsCategoryEnabled_PerCategoryFilter(t *testing.T) {
	resetLoggingState(t)
	dir := t.TempDir()
	require.NoError(t, Configure(dir, true, "info", false, map[string]bool{
		string(CategoryEngine): false,
	}))

	assert.False(t, IsCategoryEnabled(CategoryEngine))
	assert.True(t, IsCategoryEnabled(CategoryVectorStore))
}

func TestLogger_LevelFiltering(t *testing.T) {
	resetLoggingState(t)
	dir := t.TempDir()
	require.NoError(t, Configure(dir, true, "warn", false, nil))

	l := Get(CategoryEngine)
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	l.Error("kept")

	path := filepath.Join(dir, ".ifengine", "logs")
	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	require.Len(t, entries, 2) // Configure's own boot log plus the engine log

	var enginePath string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_engine.log") {
			enginePath = filepath.Join(path, e.Name())
		}
	}
	require.NotEmpty(t, enginePath)

	data, err := os.ReadFile(enginePath)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "dropped")
	assert.Contains(t, content, "kept")
}
