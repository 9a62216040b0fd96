package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// useWorkspace switches into a fresh directory with a clean viper and flag
// state, restoring both when the test ends.
func useWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	viper.Reset()
	cfgFile = ""
	verbose = false
	t.Setenv("HOME", dir)
	t.Cleanup(func() {
		_ = os.Chdir(oldDir)
		viper.Reset()
	})
	return dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// capture points the command's output at a buffer and gives it a context.
func capture(c *cobra.Command) *bytes.Buffer {
	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	c.SetContext(context.Background())
	return &buf
}
