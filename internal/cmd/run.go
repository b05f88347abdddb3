//go:build !windows

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/flaky/internal/appium"
	"github.com/steveyegge/flaky/internal/config"
	"github.com/steveyegge/flaky/internal/exitcode"
	"github.com/steveyegge/flaky/internal/style"
	"github.com/steveyegge/flaky/internal/telemetry"
	"github.com/steveyegge/flaky/internal/twopass"
)

var runCmd = &cobra.Command{
	Use:     "run --os <ios|android> --count <n> <test>...",
	GroupID: GroupRun,
	Short:   "Run tests in two passes to find flaky ones",
	Long: `Run each test once, then rerun every failure up to --count times.

Appium is restarted before every test run unless SAUCE_USERNAME is set.
Results go to <log_dir>/1 and <log_dir>/2: pass.txt and fail.txt list test
names, and logs/<test>/<run>/ holds the server log and test output of each
failed run. <log_dir>/current.txt records every run as it starts.

Tests are paths relative to --dir, e.g. appium/ios/specs/login.rb. The
test command gets the base name without extension.

Exits 60 when any test never passed.

Examples:
  flaky run --os ios --count 3 appium/ios/specs/login.rb appium/ios/specs/cart.rb
  flaky run --os android --count 5 --dir ~/src/app appium/android/specs/*.rb`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runOS    string
	runCount int
	runDir   string
	runTee   bool
)

func init() {
	runCmd.Flags().StringVar(&runOS, "os", "", "Target platform: ios or android (required)")
	runCmd.Flags().IntVar(&runCount, "count", 0, "Maximum reruns per failing test (required)")
	runCmd.Flags().StringVar(&runDir, "dir", ".", "Project directory the test command runs in")
	runCmd.Flags().BoolVar(&runTee, "tee", false, "Also stream test output to stdout")
	_ = runCmd.MarkFlagRequired("os")
	_ = runCmd.MarkFlagRequired("count")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(runDir)
	if err != nil {
		return exitcode.Usagef("--dir: %v", err)
	}
	if cfg.TestCommand == config.DefaultTestCommand {
		if _, err := os.Stat(filepath.Join(dir, "Rakefile")); err != nil {
			return exitcode.Configf("Rakefile doesn't exist in %s", dir)
		}
	}

	logger, closer := openLogger()
	defer closer.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	runner := &twopass.ShellRunner{Dir: dir, DrainTimeout: cfg.DrainTimeout, Logf: telemetry.Logf(logger.Printf)}
	if runTee {
		runner.Output = out
	}
	opts := twopass.Options{
		OS:      strings.ToLower(strings.TrimSpace(runOS)),
		Count:   runCount,
		Tests:   args,
		Dir:     dir,
		Command: cfg.TestCommandFor,
		Root:    cfg.LogDir,
		Runner:  runner,
		Out:     out,
		Logf:    telemetry.Logf(logger.Printf),
	}

	if cfg.OnSauce() {
		fmt.Fprintf(out, "%s Running on Sauce Labs as %s, no local Appium\n", style.ArrowPrefix, cfg.SauceUsername)
	} else {
		sup, err := newSupervisor(appium.ParseMode(opts.OS), logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := sup.Close(); err != nil {
				logger.Printf("closing supervisor: %v", err)
			}
		}()
		opts.Supervisor = sup
		opts.ServerLog = sup.LogPath()
	}

	res, err := twopass.Run(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	printNames(out, style.SuccessPrefix, "passed", res.Passed)
	printNames(out, style.WarningPrefix, "flaky", res.Flaky)
	printNames(out, style.ErrorPrefix, "broken", res.Broken)

	if res.Failed() {
		return exitcode.Newf(exitcode.ErrTestsFailed, "%d test(s) never passed", len(res.Broken))
	}
	return nil
}

func printNames(out io.Writer, prefix, label string, names []string) {
	fmt.Fprintf(out, "%s %d %s\n", prefix, len(names), label)
	if label == "passed" {
		return
	}
	for _, n := range names {
		fmt.Fprintf(out, "    %s\n", n)
	}
}
