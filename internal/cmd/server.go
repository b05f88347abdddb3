//go:build !windows

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/flaky/internal/appium"
	"github.com/steveyegge/flaky/internal/cleanup"
	"github.com/steveyegge/flaky/internal/style"
	"github.com/steveyegge/flaky/internal/telemetry"
)

var serverCmd = &cobra.Command{
	Use:     "server",
	GroupID: GroupServer,
	Short:   "Run or clean up the Appium server",
	RunE:    requireSubcommand,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Appium and keep it running",
	Long: `Start the Appium server and wait for it to report ready.

The server is launched from $APPIUM_HOME (or server_command in flaky.toml).
A launch that doesn't print the ready line within ready_timeout is killed
and retried, up to max_launch_attempts. All server output goes to
<log_dir>/appium_tmp_log.txt.

By default the server keeps running until interrupted. With --wait=false
flaky stops it as soon as it is ready, which checks that Appium can start.

Examples:
  flaky server start              # iOS, run until Ctrl-C
  flaky server start --android    # skip the iOS tooling sweep on stop
  flaky server start --wait=false # launch check`,
	Args: cobra.NoArgs,
	RunE: runServerStart,
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Kill stray Appium runtime and tooling processes",
	Long: `Kill every process named runtime_process (node by default) and, unless
--android is given, the iOS tooling processes in aux_processes.`,
	Args: cobra.NoArgs,
	RunE: runServerStop,
}

var (
	serverAndroid bool
	serverWait    bool
)

func init() {
	serverStartCmd.Flags().BoolVar(&serverAndroid, "android", false, "Target Android instead of iOS")
	serverStartCmd.Flags().BoolVar(&serverWait, "wait", true, "Keep the server running until interrupted")
	serverStopCmd.Flags().BoolVar(&serverAndroid, "android", false, "Target Android instead of iOS")

	serverCmd.AddCommand(serverStartCmd, serverStopCmd)
	rootCmd.AddCommand(serverCmd)
}

func serverMode() appium.Mode {
	if serverAndroid {
		return appium.ModeAndroid
	}
	return appium.ModeIOS
}

// newSupervisor builds a supervisor from the effective config.
func newSupervisor(mode appium.Mode, logger *log.Logger) (*appium.Supervisor, error) {
	command, err := cfg.ResolveServerCommand()
	if err != nil {
		return nil, err
	}
	return appium.New(appium.Options{
		Command:        command,
		Mode:           mode,
		LogPath:        cfg.ServerLogPath(),
		LockPath:       cfg.LockPath(),
		ReadyTimeout:   cfg.ReadyTimeout,
		PollInterval:   cfg.PollInterval,
		MaxAttempts:    cfg.MaxLaunchAttempts,
		DrainTimeout:   cfg.DrainTimeout,
		RuntimeProcess: cfg.RuntimeProcess,
		AuxProcesses:   cfg.AuxProcesses,
		Cleaner:        newKiller(logger),
		Logf:           telemetry.Logf(logger.Printf),
	}), nil
}

func newKiller(logger *log.Logger) *cleanup.Killer {
	return &cleanup.Killer{RetryDelay: cfg.CleanupRetryDelay, Logf: telemetry.Logf(logger.Printf)}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServerStart(cmd *cobra.Command, args []string) error {
	logger, closer := openLogger()
	defer closer.Close()

	sup, err := newSupervisor(serverMode(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			style.PrintWarning("stopping server: %v", err)
		}
	}()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Starting Appium (%s), log: %s\n", style.ArrowPrefix, sup.Mode(), style.Dim.Render(sup.LogPath()))
	if err := sup.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Appium ready (pid %d, session %s)\n", style.SuccessPrefix, sup.PID(), sup.SessionID())

	if !serverWait {
		return nil
	}
	fmt.Fprintf(out, "  %s\n", style.Dim.Render("Press Ctrl-C to stop"))
	<-ctx.Done()
	fmt.Fprintf(out, "%s Stopping Appium\n", style.ArrowPrefix)
	return nil
}

func runServerStop(cmd *cobra.Command, args []string) error {
	logger, closer := openLogger()
	defer closer.Close()

	names := []string{cfg.RuntimeProcess}
	if serverMode() != appium.ModeAndroid {
		names = append(names, cfg.AuxProcesses...)
	}
	newKiller(logger).KillAllNames(cmd.Context(), names...)
	fmt.Fprintf(cmd.OutOrStdout(), "%s Swept %v\n", style.SuccessPrefix, names)
	return nil
}
