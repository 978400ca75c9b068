package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"vkharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	noLogo     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vkharvest",
	Short: "Resumable collector of VK wall posts and profiles",
	Long: `vkharvest pages through the walls of configured VK users and communities
and appends every new post, and the owners' profiles, to CSV files.

A run can be interrupted at any time with Ctrl+C. Seen ids and per-source
offsets are checkpointed so the next run continues where this one stopped
without writing duplicates.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !noLogo && cmd.Name() == crawlCmd.Name() {
			ui.PrintLogo()
		}
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.vkharvest.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noLogo, "no-logo", false, "do not print the banner")

	rootCmd.SetVersionTemplate(`vkharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the persistent flags in config.MergeCommandLineFlags form
func globalFlags() map[string]interface{} {
	return map[string]interface{}{
		"log-level": logLevel,
		"log-file":  logFile,
	}
}
