package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/telegram"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and environment",
	Long: `Validate the configuration, check that the input and state locations are
usable and, with --online, that the bot token is accepted by the provider.`,
	RunE: runDoctor,
}

var doctorOnline bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorOnline, "online", false, "also verify the bot token with the provider")
}

type checkResult struct {
	Name     string
	OK       bool
	Optional bool
	Detail   string
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Validating chatprobe configuration...")
	fmt.Fprintln(out)

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(out, "  ✗ Cannot load config: %v\n", err)
		return fmt.Errorf("configuration check failed")
	}

	issues := validateChatprobeConfig(cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(out, "  ✗ %s\n", issue)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration errors must be fixed before running.")
		fmt.Fprintln(out, "Edit .chatprobe.yaml or the CHATPROBE_* environment to fix the issues above.")
		return fmt.Errorf("configuration check failed")
	}
	fmt.Fprintln(out, "  ✓ Configuration valid")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Checking environment...")
	fmt.Fprintln(out)
	checks := environmentChecks(cfg)
	if doctorOnline {
		checks = append(checks, checkProvider(cmd.Context(), cfg))
	}

	if !printChecks(out, checks) {
		return fmt.Errorf("environment check failed")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Ready to run")
	return nil
}

// validateChatprobeConfig returns one line per validation problem.
func validateChatprobeConfig(cfg *config.Config) []string {
	var issues []string
	err := config.NewValidator().RequireCredentials().Validate(cfg)
	if err == nil {
		return nil
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		for _, verr := range verrs {
			issues = append(issues, verr.Error())
		}
		return issues
	}
	return []string{err.Error()}
}

func environmentChecks(cfg *config.Config) []checkResult {
	var checks []checkResult

	canonical := cfg.Input.CanonicalPath()
	if _, err := os.Stat(canonical); err == nil {
		checks = append(checks, checkResult{Name: "canonical input " + canonical, OK: true})
	} else {
		checks = append(checks, checkResult{
			Name:     "canonical input " + canonical,
			Optional: true,
			Detail:   "missing; run 'chatprobe aggregate' or pass --input",
		})
	}

	if info, err := os.Stat(cfg.Input.Dir); err == nil && info.IsDir() {
		checks = append(checks, checkResult{Name: "input directory " + cfg.Input.Dir, OK: true})
	} else {
		checks = append(checks, checkResult{Name: "input directory " + cfg.Input.Dir, Optional: true, Detail: "missing"})
	}

	checks = append(checks, checkWritable("state directory "+cfg.State.Dir, cfg.State.Dir))
	if dir := filepath.Dir(cfg.Output.Path); dir != "." {
		checks = append(checks, checkWritable("output directory "+dir, dir))
	}
	return checks
}

func checkWritable(name, dir string) checkResult {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return checkResult{Name: name, Detail: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return checkResult{Name: name, Detail: "not writable: " + err.Error()}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return checkResult{Name: name, OK: true}
}

func checkProvider(ctx context.Context, cfg *config.Config) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	p := telegram.New(cfg.Telegram.BotToken,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
		telegram.WithTimeout(config.Duration(cfg.Telegram.Timeout)),
	)
	defer p.Close()

	if err := p.Connect(ctx); err != nil {
		return checkResult{Name: "bot token", Detail: err.Error()}
	}
	id, ok, err := p.IsAuthorized(ctx)
	switch {
	case err != nil:
		return checkResult{Name: "bot token", Detail: err.Error()}
	case !ok:
		return checkResult{Name: "bot token", Detail: "rejected by the provider"}
	default:
		return checkResult{Name: fmt.Sprintf("bot token (bot id %d)", id), OK: true}
	}
}

// printChecks prints each result and reports whether every required check
// passed.
func printChecks(out io.Writer, checks []checkResult) bool {
	ok := true
	for _, c := range checks {
		icon := "✓"
		suffix := ""
		if !c.OK {
			if c.Optional {
				icon = "○"
				suffix = " (optional)"
			} else {
				icon = "✗"
				ok = false
			}
		}
		if c.Detail != "" {
			suffix += ": " + c.Detail
		}
		fmt.Fprintf(out, "  %s %s%s\n", icon, c.Name, suffix)
	}
	return ok
}
