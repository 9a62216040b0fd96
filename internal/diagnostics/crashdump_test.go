package diagnostics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCrashDumpWriter_Defaults(t *testing.T) {
	t.Parallel()

	w := NewCrashDumpWriter(Options{}, nil)
	if w.Dir() != DefaultDir {
		t.Errorf("Dir() = %q, want %q", w.Dir(), DefaultDir)
	}
	if w.maxFiles != defaultMaxFiles {
		t.Errorf("maxFiles = %d, want %d", w.maxFiles, defaultMaxFiles)
	}
}

func TestCrashDumpWriter_WriteCrashDump(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	w := NewCrashDumpWriter(Options{Dir: dir, IncludeStack: true}, nil)
	w.SetRunContext(RunContext{
		RunID:      "run-1",
		Command:    "run",
		InputPath:  "input/chats.csv",
		OutputPath: "chats_out.csv",
	})

	path, err := w.WriteCrashDump("boom")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "crash-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var dump CrashDump
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Equal(t, "boom", dump.PanicValue)
	assert.Equal(t, os.Getpid(), dump.ProcessID)
	assert.NotEmpty(t, dump.StackTrace)
	assert.Equal(t, "run-1", dump.Run.RunID)
	assert.Equal(t, "input/chats.csv", dump.Run.InputPath)
	assert.Positive(t, dump.Resources.Goroutines)
	assert.Nil(t, dump.RedactedEnv)
}

func TestCrashDumpWriter_RecoverAndReturn(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewCrashDumpWriter(Options{Dir: dir}, nil)

	run := func() (err error) {
		defer w.RecoverAndReturn(&err)
		panic("fetch loop exploded")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch loop exploded")
	assert.Contains(t, err.Error(), "dump:")

	dump, loadErr := LoadLatestCrashDump(dir)
	require.NoError(t, loadErr)
	assert.Equal(t, "fetch loop exploded", dump.PanicValue)
}

func TestCrashDumpWriter_RecoverAndReturn_NoPanic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewCrashDumpWriter(Options{Dir: dir}, nil)

	sentinel := errors.New("ordinary failure")
	run := func() (err error) {
		defer w.RecoverAndReturn(&err)
		return sentinel
	}

	assert.ErrorIs(t, run(), sentinel)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCrashDumpWriter_CleanupOldDumps(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"crash-a.json", "crash-b.json", "crash-c.json", "notes.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}

	w := NewCrashDumpWriter(Options{Dir: dir, MaxFiles: 2}, nil)
	require.NoError(t, w.cleanupOldDumps())

	_, err := os.Stat(filepath.Join(dir, "crash-a.json"))
	assert.True(t, os.IsNotExist(err), "oldest dump should be removed")
	for _, name := range []string{"crash-b.json", "crash-c.json", "notes.txt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRedactEnvironment(t *testing.T) {
	t.Parallel()

	got := redactEnvironment([]string{
		"CHATPROBE_TELEGRAM_BOT_TOKEN=123:abc",
		"CHATPROBE_SINKS_POSTGRES_DSN=postgres://u:p@h/db",
		"AZURE_STORAGE_KEY=secret",
		"HOME=/home/me",
		"MALFORMED",
	})

	assert.Equal(t, "[REDACTED]", got["CHATPROBE_TELEGRAM_BOT_TOKEN"])
	assert.Equal(t, "[REDACTED]", got["CHATPROBE_SINKS_POSTGRES_DSN"])
	assert.Equal(t, "[REDACTED]", got["AZURE_STORAGE_KEY"])
	assert.Equal(t, "/home/me", got["HOME"])
	assert.NotContains(t, got, "MALFORMED")
}

func TestLoadLatestCrashDump_Empty(t *testing.T) {
	t.Parallel()

	_, err := LoadLatestCrashDump(t.TempDir())
	assert.Error(t, err)

	_, err = LoadLatestCrashDump(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
