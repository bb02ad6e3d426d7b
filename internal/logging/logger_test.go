package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeNoConfigIsSilent(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws))
	defer CloseAll()

	assert.False(t, IsDebugMode())
	// No logs directory should be created in production mode.
	_, err := os.Stat(filepath.Join(ws, ".winterfox", "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitializeDebugMode(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".winterfox")
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	cfg := "[logging]\ndebug_mode = true\nlevel = \"debug\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.toml"), []byte(cfg), 0644))

	require.NoError(t, Initialize(ws))
	defer CloseAll()

	assert.True(t, IsDebugMode())

	Store("store message %d", 1)
	StoreDebug("debug detail")

	entries, err := os.ReadDir(filepath.Join(cfgDir, "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestCategoryFiltering(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".winterfox")
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	cfg := "[logging]\ndebug_mode = true\n\n[logging.categories]\nworker = false\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.toml"), []byte(cfg), 0644))

	require.NoError(t, Initialize(ws))
	defer CloseAll()

	assert.False(t, IsCategoryEnabled(CategoryWorker))
	assert.True(t, IsCategoryEnabled(CategoryStore))
}

func TestNoopLoggerIsSafe(t *testing.T) {
	l := &Logger{category: CategoryBoot}
	l.Debug("a")
	l.Info("b %s", "c")
	l.Warn("d")
	l.Error("e")
	assert.NotNil(t, l.With("k", "v"))
}

func TestTimer(t *testing.T) {
	timer := StartTimer(CategoryStore, "op")
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}
