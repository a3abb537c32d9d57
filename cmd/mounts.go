package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kcore/ksyscall"
)

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "Dump mount namespaces by task",
	Args:  cobra.NoArgs,
	RunE:  runMounts,
}

func init() {
	rootCmd.AddCommand(mountsCmd)
}

func runMounts(cmd *cobra.Command, args []string) error {
	if _, err := ensureBooted(); err != nil {
		return err
	}
	contexts := ksyscall.Contexts()
	pids := make([]int, 0, len(contexts))
	for pid := range contexts {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tPATH\tFLAGS\tDEVID")
	for _, pid := range pids {
		for _, m := range contexts[pid].MountNS.Mounts() {
			fmt.Fprintf(w, "%d\t%s\t%#x\t%d\n", pid, m.Path, m.Flags, m.DevID)
		}
	}
	return w.Flush()
}
