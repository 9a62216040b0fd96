package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run lock and recent runs",
	Long: `Display who holds the run lock for an output file and the most recent
runs recorded in the ledger.`,
	RunE: runStatus,
}

var (
	statusJSON   bool
	statusOutput string
	statusLimit  int
	statusBackup string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "", "output file whose lock to inspect (default: unified output)")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of runs to show (0 for all)")
	statusCmd.Flags().StringVar(&statusBackup, "backup", "", "write a consistent copy of the ledger to this path")
}

type statusReport struct {
	Output   string           `json:"output"`
	Lock     *core.LockHolder `json:"lock,omitempty"`
	Runs     []runView        `json:"runs"`
	Attempts map[string]int   `json:"latest_attempts,omitempty"`
}

type runView struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Input        string     `json:"input"`
	Output       string     `json:"output"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Total        int        `json:"total"`
	Successful   int        `json:"successful"`
	Skipped      int        `json:"skipped"`
	AccessDenied int        `json:"access_denied"`
	Errors       int        `json:"errors"`
	AbortReason  string     `json:"abort_reason,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	output := statusOutput
	if output == "" {
		output = cfg.Output.Path
	}
	report := statusReport{Output: output, Runs: []runView{}}

	lock := state.NewFileLock(state.LockPath(cfg.State.Dir, output), output,
		state.WithLockTTL(config.Duration(cfg.State.LockTTL)))
	holder, err := lock.Holder()
	if err != nil {
		return err
	}
	report.Lock = holder

	if err := loadRuns(cmd, cfg.State.Ledger, &report); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return outputJSON(out, report)
	}
	printStatus(out, report)
	return nil
}

// loadRuns fills report from the ledger without creating one.
func loadRuns(cmd *cobra.Command, path string, report *statusReport) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	ledger, err := state.OpenLedger(path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := cmd.Context()
	runs, err := ledger.ListRuns(ctx, statusLimit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		report.Runs = append(report.Runs, runView{
			ID:           r.ID,
			Status:       r.Status,
			Input:        r.InputPath,
			Output:       r.OutputPath,
			StartedAt:    r.StartedAt,
			FinishedAt:   r.FinishedAt,
			Total:        r.Summary.Total,
			Successful:   r.Summary.Successful,
			Skipped:      r.Summary.Skipped,
			AccessDenied: r.Summary.AccessDenied,
			Errors:       r.Summary.Errors,
			AbortReason:  r.Summary.AbortReason,
		})
	}
	if len(runs) > 0 {
		counts, err := ledger.AttemptCounts(ctx, runs[0].ID)
		if err != nil {
			return err
		}
		report.Attempts = counts
	}

	if statusBackup != "" {
		if err := ledger.Backup(ctx, statusBackup); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Ledger copied to %s\n", statusBackup)
	}
	return nil
}

func printStatus(out io.Writer, report statusReport) {
	fmt.Fprintln(out, tui.TitleStyle.Render("Output: "+report.Output))
	if report.Lock != nil {
		fmt.Fprintf(out, "Locked by pid %d on %s since %s\n",
			report.Lock.PID, report.Lock.Hostname, report.Lock.AcquiredAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Not locked")
	}
	fmt.Fprintln(out)

	if len(report.Runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tDURATION\tTOTAL\tOK\tSKIPPED\tDENIED\tERRORS")
	fmt.Fprintln(w, "---\t------\t-------\t--------\t-----\t--\t-------\t------\t------")
	for _, r := range report.Runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			shortID(r.ID), r.Status, r.StartedAt.Local().Format("2006-01-02 15:04"), duration,
			r.Total, r.Successful, r.Skipped, r.AccessDenied, r.Errors)
	}
	w.Flush()

	if latest := report.Runs[0]; latest.AbortReason != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.StatusStyle(latest.Status).Render(latest.AbortReason))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
