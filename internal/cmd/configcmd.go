package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/flaky/internal/style"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupConfig,
	Short:   "Show the effective configuration",
	Args:    cobra.NoArgs,
	RunE:    runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	source := cfg.Path
	if source == "" {
		source = "defaults"
	}
	server, err := cfg.ResolveServerCommand()
	if err != nil {
		server = "error: " + err.Error()
	}
	sauce := cfg.SauceUsername
	if sauce == "" {
		sauce = "(local server)"
	}

	tbl := style.NewTable(
		style.Column{Name: "Setting", Width: 20},
		style.Column{Name: "Value", Width: 60},
	)
	tbl.AddRow("source", source)
	tbl.AddRow("appium_home", cfg.AppiumHome)
	tbl.AddRow("server_command", server)
	tbl.AddRow("sauce_username", sauce)
	tbl.AddRow("ready_timeout", cfg.ReadyTimeout.String())
	tbl.AddRow("poll_interval", cfg.PollInterval.String())
	tbl.AddRow("max_launch_attempts", fmt.Sprint(cfg.MaxLaunchAttempts))
	tbl.AddRow("cleanup_retry_delay", cfg.CleanupRetryDelay.String())
	tbl.AddRow("drain_timeout", cfg.DrainTimeout.String())
	tbl.AddRow("log_dir", cfg.LogDir)
	tbl.AddRow("runtime_process", cfg.RuntimeProcess)
	tbl.AddRow("aux_processes", strings.Join(cfg.AuxProcesses, ", "))
	tbl.AddRow("test_command", cfg.TestCommand)

	_, err = fmt.Fprint(cmd.OutOrStdout(), tbl.Render())
	return err
}
