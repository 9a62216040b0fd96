package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a chatprobe workspace",
	Long: `Initialize a chatprobe workspace in the current directory.
Writes .chatprobe.yaml with the default settings and creates the input,
log and state directories.`,
	RunE: runInit,
}

var (
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	return initWorkspace(cmd, cwd, initForce)
}

func initWorkspace(cmd *cobra.Command, dir string, force bool) error {
	configPath := filepath.Join(dir, ".chatprobe.yaml")

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	cfg := config.Default()
	data, err := config.RenderYAML(cfg)
	if err != nil {
		return err
	}
	if err := config.AtomicWrite(configPath, data); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	dirs := []string{
		cfg.Input.Dir,
		cfg.State.Dir,
		filepath.Dir(cfg.Input.ProgressLog),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initialized chatprobe workspace in", dir)
	fmt.Fprintln(out, "Configuration file: .chatprobe.yaml")
	fmt.Fprintln(out, "Set CHATPROBE_TELEGRAM_BOT_TOKEN (or BOT_TOKEN in .env), then run 'chatprobe doctor'")
	return nil
}
