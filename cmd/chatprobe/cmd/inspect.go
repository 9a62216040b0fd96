package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/service"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tui"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Analyze, clean or convert input and output tables",
}

var inspectAnalyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Show row, column fill, duplicate and status statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectAnalyze,
}

var inspectCleanCmd = &cobra.Command{
	Use:   "clean <file>",
	Short: "Drop rows without an identifier and merge duplicates",
	Long: `Drop rows that carry neither a usable id nor a valid username and merge
rows sharing an identifier, keeping the last one. The file is rewritten in
place unless --output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectClean,
}

var inspectConvertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Re-encode a table, changing delimiter, encoding or compression",
	Long: `Rewrite a table with another delimiter, text encoding or compression.
Compression defaults to the codec implied by the output extension
(.gz, .zst, .lz4).`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectConvert,
}

var (
	inspectJSON        bool
	inspectOutput      string
	inspectDelimiter   string
	inspectEncoding    string
	inspectCompression string
)

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(inspectAnalyzeCmd, inspectCleanCmd, inspectConvertCmd)

	inspectAnalyzeCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")

	inspectCleanCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "write the cleaned table here instead of in place")

	inspectConvertCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "destination file (required)")
	inspectConvertCmd.Flags().StringVar(&inspectDelimiter, "delimiter", ",", "column separator: comma, semicolon or tab")
	inspectConvertCmd.Flags().StringVar(&inspectEncoding, "encoding", "utf-8", "text encoding: utf-8, windows-1251 or latin-1")
	inspectConvertCmd.Flags().StringVar(&inspectCompression, "compression", "", "none, gzip, zstd or lz4 (default: from the output extension)")
	_ = inspectConvertCmd.MarkFlagRequired("output")
}

func readTable(path string, normalize bool) (*tabular.Table, tabular.Format, error) {
	t, f, err := tabular.ReadFile(path, tabular.Options{NormalizeHeaders: normalize})
	if err != nil {
		return nil, f, core.ErrIO(core.CodeReadFailed, "reading table").WithCause(err).WithDetail("path", path)
	}
	return t, f, nil
}

func runInspectAnalyze(cmd *cobra.Command, args []string) error {
	t, format, err := readTable(args[0], true)
	if err != nil {
		return err
	}
	a := service.Analyze(t)

	out := cmd.OutOrStdout()
	if inspectJSON {
		return outputJSON(out, struct {
			Path   string `json:"path"`
			Format string `json:"format"`
			service.Analysis
		}{args[0], format.String(), a})
	}
	printAnalysis(out, args[0], format, a)
	return nil
}

func printAnalysis(out io.Writer, path string, format tabular.Format, a service.Analysis) {
	fmt.Fprintln(out, tui.TitleStyle.Render(path))
	fmt.Fprintf(out, "Format:        %s\n", format)
	fmt.Fprintf(out, "Rows:          %d\n", a.Rows)
	fmt.Fprintf(out, "Identified:    %d\n", a.Identified)
	fmt.Fprintf(out, "Duplicate ids: %d\n", a.DuplicateIDs)
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tFILLED\t%")
	fmt.Fprintln(w, "------\t------\t-")
	for _, c := range a.Columns {
		pct := 0.0
		if a.Rows > 0 {
			pct = float64(c.Filled) * 100 / float64(a.Rows)
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f\n", c.Column, c.Filled, pct)
	}
	w.Flush()

	if len(a.StatusCounts) == 0 {
		return
	}
	fmt.Fprintln(out)
	for _, s := range a.SortedStatuses() {
		label := s
		if label == "" {
			label = "(empty)"
		}
		fmt.Fprintf(out, "  %s %d\n", tui.StatusStyle(s).Render(fmt.Sprintf("%-14s", label)), a.StatusCounts[s])
	}
	if a.UnknownCounts > 0 {
		fmt.Fprintf(out, "  %d successful rows have no member count\n", a.UnknownCounts)
	}
}

func runInspectClean(cmd *cobra.Command, args []string) error {
	t, format, err := readTable(args[0], true)
	if err != nil {
		return err
	}
	cleaned, stats := service.Clean(t)

	dest := inspectOutput
	if dest == "" {
		dest = args[0]
	}
	err = tabular.WriteFile(dest, cleaned, tabular.WriteOptions{
		Delimiter: format.Delimiter,
		Encoding:  format.Encoding,
	})
	if err != nil {
		return core.ErrIO(core.CodeWriteFailed, "writing cleaned table").WithCause(err).WithDetail("path", dest)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d row(s) without identifier and %d duplicate(s); %d row(s) written to %s\n",
		stats.Unidentified, stats.Duplicates, cleaned.Len(), dest)
	return nil
}

func runInspectConvert(cmd *cobra.Command, args []string) error {
	delim, err := parseDelimiter(inspectDelimiter)
	if err != nil {
		return err
	}
	enc, err := tabular.ParseEncoding(inspectEncoding)
	if err != nil {
		return core.ErrValidation(core.CodeInvalidConfig, "invalid --encoding").WithCause(err)
	}
	var comp tabular.Compression
	if inspectCompression != "" {
		if comp, err = tabular.ParseCompression(inspectCompression); err != nil {
			return core.ErrValidation(core.CodeInvalidConfig, "invalid --compression").WithCause(err)
		}
	}

	t, _, err := readTable(args[0], false)
	if err != nil {
		return err
	}
	err = tabular.WriteFile(inspectOutput, t, tabular.WriteOptions{
		Delimiter:   delim,
		Encoding:    enc,
		Compression: comp,
	})
	if err != nil {
		return core.ErrIO(core.CodeWriteFailed, "writing converted table").WithCause(err).WithDetail("path", inspectOutput)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d row(s) to %s\n", t.Len(), inspectOutput)
	return nil
}

func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", `\t`, "tab":
		return '\t', nil
	default:
		return 0, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unsupported delimiter %q", s))
	}
}
