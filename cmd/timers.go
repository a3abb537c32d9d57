package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kcore/timer"
)

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "Dump the timer wheel",
	Args:  cobra.NoArgs,
	RunE:  runTimers,
}

func init() {
	rootCmd.AddCommand(timersCmd)
}

func runTimers(cmd *cobra.Command, args []string) error {
	if _, err := ensureBooted(); err != nil {
		return err
	}
	now := timer.Now()
	pending := timer.Pending()
	fmt.Printf("now=%d armed=%d\n", now, len(pending))
	for i, exp := range pending {
		fmt.Printf("  [%d] expire=%d (+%d)\n", i, exp, exp-now)
	}
	return nil
}
