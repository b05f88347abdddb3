// Package cmd provides CLI commands for the flaky tool.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/flaky/internal/config"
	"github.com/steveyegge/flaky/internal/exitcode"
	"github.com/steveyegge/flaky/internal/style"
	"github.com/steveyegge/flaky/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:     "flaky",
	Short:   "Find flaky mobile UI tests",
	Version: Version,
	Long: `flaky runs an Appium test suite twice to tell flaky tests from broken ones.

Every test runs once against a freshly started Appium server. Each failure
is then rerun up to --count times, stopping at its first pass. Tests that
eventually pass are flaky; tests that never pass are broken.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

var (
	configPath string
	verbose    bool

	// cfg is the effective configuration, loaded before any command runs.
	cfg *config.Config

	metrics *telemetry.Provider
)

// Commands that run without a config file.
var configExemptCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if configExemptCommands[cmd.Name()] {
		cfg = config.Default()
		return nil
	}
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = c

	p, err := telemetry.Init(cmd.Context(), "flaky", Version)
	if err != nil {
		style.PrintWarning("metrics disabled: %v", err)
	}
	metrics = p
	return nil
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())

	if metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := metrics.Shutdown(ctx); serr != nil && verbose {
			fmt.Fprintf(os.Stderr, "flaky: flushing metrics: %v\n", serr)
		}
		cancel()
	}

	if err == nil {
		return exitcode.Success
	}
	if !exitcode.Is(err, exitcode.ErrTestsFailed) {
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
	}
	return exitcode.Code(err)
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupServer = "server"
	GroupRun    = "run"
	GroupConfig = "config"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupRun, Title: "Test Runs:"},
		&cobra.Group{ID: GroupServer, Title: "Server Management:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupConfig)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitcode.Wrap(exitcode.ErrUsage, "", err)
	})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $FLAKY_CONFIG or ./flaky.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log server lifecycle to stderr")
}

// buildCommandPath walks the command hierarchy to build the full command path.
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns an error for parent commands run without a
// known subcommand, instead of cobra's silent help and exit 0.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return exitcode.Usagef("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return exitcode.Usagef("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
