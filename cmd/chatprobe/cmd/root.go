package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tui"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConflict = 2
	exitThrottle = 3
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	verbose   bool

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "chatprobe",
	Short: "Resumable Telegram chat metadata fetcher",
	Long: `chatprobe reads tables of Telegram chat identifiers, fetches each chat's
public metadata at a human-like pace and merges the results into a CSV
output that later runs resume from.

Identifiers already present in the output are skipped, so an interrupted
run can simply be started again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command and prints any error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, tui.RenderError(err))
	}
	return err
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if core.IsThrottleAbort(err) {
		return exitThrottle
	}
	var conflict *core.RunLockConflictError
	if errors.As(err, &conflict) {
		return exitConflict
	}
	return exitFailure
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .chatprobe.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"shorthand for --log-level debug")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".chatprobe")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chatprobe")
	}

	viper.SetEnvPrefix("CHATPROBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if verbose {
		viper.Set("log.level", "debug")
	}
	return nil
}
