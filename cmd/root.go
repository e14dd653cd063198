// Package cmd implements the openfilter CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiagors92/open-filter-challange/report"
)

const defaultConfigFile = "pipeline.yaml"

var (
	cfgFile       string
	verbose       bool
	themeOverride string

	appVersion = "dev"

	// stderr receives logs and failure lines.
	stderr io.Writer = os.Stderr
)

// errReported is returned by commands that already printed their failure.
var errReported = errors.New("failure already reported")

var rootCmd = &cobra.Command{
	Use:           "openfilter",
	Short:         "openfilter runs video filter pipelines",
	Long:          "openfilter validates and runs pipelines of filter stages connected by topic addresses.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "pipeline config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&themeOverride, "theme", "", "TUI color theme: dark, light, or auto")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(filtersCmd)
}

// SetVersionInfo sets the version and commit for display.
func SetVersionInfo(version, commit string) {
	appVersion = version
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("openfilter %s (commit: %s)\n", version, commit))
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(stderr, report.ErrorLine(err))
		}
		return report.ExitFailure
	}
	return report.ExitSuccess
}
