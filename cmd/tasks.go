package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kcore/process"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Dump the PCB table",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

var tasksFormat string

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().StringVarP(&tasksFormat, "format", "f", "table", "output format (table, json)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	if _, err := ensureBooted(); err != nil {
		return err
	}
	tasks := process.List()

	if tasksFormat == "json" {
		type taskItem struct {
			PID    int    `json:"pid"`
			NSPID  int    `json:"ns_pid"`
			PPID   int    `json:"ppid"`
			State  string `json:"state"`
			Flags  uint32 `json:"flags"`
			Kernel bool   `json:"kernel_thread"`
		}
		items := make([]taskItem, len(tasks))
		for i, t := range tasks {
			items[i] = taskItem{
				PID: t.PID(), NSPID: t.NSPID(), PPID: t.ParentPID(),
				State: t.State().String(), Flags: uint32(t.Flags()), Kernel: t.IsKernelThread(),
			}
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tNSPID\tPPID\tSTATE\tFLAGS\tKERNEL")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%#x\t%t\n",
			t.PID(), t.NSPID(), t.ParentPID(), t.State(), t.Flags(), t.IsKernelThread())
	}
	return w.Flush()
}
