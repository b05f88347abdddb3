//go:build !windows

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/flaky/internal/style"
)

var killCmd = &cobra.Command{
	Use:     "kill <name>...",
	GroupID: GroupServer,
	Short:   "Kill all processes with the given names",
	Long: `Send SIGKILL to every process matching each name, as killall -9 does.
A name with no matching process is not an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	logger, closer := openLogger()
	defer closer.Close()

	k := newKiller(logger)
	for _, name := range args {
		if err := k.KillAll(cmd.Context(), name); err != nil {
			return fmt.Errorf("killing %s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", style.SuccessPrefix, name)
	}
	return nil
}
