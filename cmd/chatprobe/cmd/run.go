package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/service"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch metadata for every pending identifier",
	Long: `Fetch chat metadata for the identifiers of an input table and merge the
results into the output CSV.

With --all-files the input directory is first folded into the canonical
input and results go to the unified output. Otherwise a single input is
processed and, unless --output is given, results are written next to it as
<name><suffix>.csv.

Interrupting a run (Ctrl+C) flushes everything fetched so far; the next run
resumes where it stopped.`,
	RunE: runRun,
}

var (
	runInput    string
	runOutput   string
	runAllFiles bool
	runDryRun   bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "input table (default: canonical input)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output CSV (default: derived from the input)")
	runCmd.Flags().BoolVarP(&runAllFiles, "all-files", "a", false, "aggregate the input directory and write the unified output")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "plan the run without contacting the provider or writing files")
}

func runRun(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(!runDryRun)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := resolveRunOptions(cfg, runInput, runOutput, runAllFiles)
	opts.DryRun = runDryRun
	if runDryRun {
		// Nothing may be written on a dry run, the ledger and sinks included.
		cfg.State.Ledger = ""
		cfg.Sinks = config.SinksConfig{}
	}

	dumper := diagnostics.NewCrashDumpWriter(diagnostics.Options{
		Dir:          filepath.Join(cfg.State.Dir, "crashdumps"),
		IncludeStack: true,
	}, logger)
	dumper.SetRunContext(diagnostics.RunContext{
		Command:    cmd.CommandPath(),
		InputPath:  opts.InputPath,
		OutputPath: opts.OutputPath,
	})
	defer dumper.RecoverAndReturn(&err)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildPipeline(ctx, cfg, logger, opts.OutputPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("closing ledger", "error", err)
		}
	}()

	summary, runErr := deps.Pipeline.Run(ctx, opts)
	if summary != nil && (runErr == nil || summary.RunID != "") {
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(summary))
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted, results so far were saved")
	}
	if core.IsThrottleAbort(runErr) {
		logger.Error("provider throttle exceeds the configured ceiling, retry later", "error", runErr)
	}
	return runErr
}

// resolveRunOptions picks input and output paths. --all-files always uses the
// canonical input and unified output; otherwise the output defaults to a
// per-file name next to the input.
func resolveRunOptions(cfg *config.Config, input, output string, allFiles bool) service.RunOptions {
	if allFiles {
		if output == "" {
			output = cfg.Output.Path
		}
		return service.RunOptions{
			InputPath:  cfg.Input.CanonicalPath(),
			OutputPath: output,
			Aggregate:  true,
		}
	}

	if input == "" {
		input = cfg.Input.CanonicalPath()
	}
	if output == "" {
		output = service.LegacyOutputPath(input, cfg.Output.Suffix)
	}
	return service.RunOptions{InputPath: input, OutputPath: output}
}
