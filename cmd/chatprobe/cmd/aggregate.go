package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/service"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Fold the input directory into the canonical input",
	Long: `Merge every table in the input directory into the canonical input,
deduplicating by id. Folded and empty sources are deleted and recorded in the
progress log; files that fail to parse are left in place.`,
	RunE: runAggregate,
}

var aggregateJSON bool

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().BoolVar(&aggregateJSON, "json", false, "Output as JSON")
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	canonical := cfg.Input.CanonicalPath()
	lock := state.NewFileLock(state.LockPath(cfg.State.Dir, canonical), canonical,
		state.WithLockTTL(config.Duration(cfg.State.LockTTL)))
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("releasing lock", "error", err)
		}
	}()

	agg := service.NewAggregator(service.AggregatorConfig{
		Dir:         cfg.Input.Dir,
		Canonical:   canonical,
		ProgressLog: cfg.Input.ProgressLog,
		Extensions:  cfg.Input.Extensions,
		Workers:     cfg.Input.Workers,
	}, service.WithAggregatorLogger(logger))

	res, err := agg.Aggregate(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if aggregateJSON {
		return outputJSON(out, aggregateView(res))
	}

	if len(res.Sources) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tOUTCOME\tROWS\tADDED")
		fmt.Fprintln(w, "------\t-------\t----\t-----")
		for _, s := range res.Sources {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Path, s.Outcome, s.Rows, s.Added)
		}
		w.Flush()
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Canonical input: %s\n", res.Canonical)
	fmt.Fprintf(out, "Rows: %d (added %d, duplicates dropped %d)\n", res.Rows, res.Added, res.Dropped)
	if n := res.Count(service.SourceFailed); n > 0 {
		fmt.Fprintf(out, "%d file(s) could not be parsed and were left in place\n", n)
	}
	return nil
}

type sourceView struct {
	Path    string `json:"path"`
	Outcome string `json:"outcome"`
	Rows    int    `json:"rows"`
	Added   int    `json:"added"`
	Error   string `json:"error,omitempty"`
}

type aggregateResultView struct {
	Canonical string       `json:"canonical"`
	Rows      int          `json:"rows"`
	Added     int          `json:"added"`
	Dropped   int          `json:"dropped"`
	Sources   []sourceView `json:"sources"`
}

func aggregateView(res *service.AggregateResult) aggregateResultView {
	v := aggregateResultView{
		Canonical: res.Canonical,
		Rows:      res.Rows,
		Added:     res.Added,
		Dropped:   res.Dropped,
		Sources:   make([]sourceView, 0, len(res.Sources)),
	}
	for _, s := range res.Sources {
		sv := sourceView{Path: s.Path, Outcome: s.Outcome, Rows: s.Rows, Added: s.Added}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		v.Sources = append(v.Sources, sv)
	}
	return v
}
