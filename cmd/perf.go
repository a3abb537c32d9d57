package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kcore/process"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Dump software performance counters by task",
	Args:  cobra.NoArgs,
	RunE:  runPerf,
}

func init() {
	rootCmd.AddCommand(perfCmd)
}

func runPerf(cmd *cobra.Command, args []string) error {
	if _, err := ensureBooted(); err != nil {
		return err
	}
	tasks := process.List()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tTASK-CLOCK\tCONTEXT-SWITCHES")
	for _, t := range tasks {
		cs := t.Counters()
		fmt.Fprintf(w, "%d\t%d\t%d\n", t.PID(), cs.TaskClock.Read(), cs.ContextSwitches.Read())
	}
	return w.Flush()
}
