package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kcore/ksyscall"
	"kcore/vfs"
)

var socketsCmd = &cobra.Command{
	Use:   "sockets",
	Short: "Dump open sockets by task",
	Args:  cobra.NoArgs,
	RunE:  runSockets,
}

func init() {
	rootCmd.AddCommand(socketsCmd)
}

func runSockets(cmd *cobra.Command, args []string) error {
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
	fmt.Fprintln(w, "PID\tFD\tKIND")
	for _, pid := range pids {
		fds := contexts[pid].FDs.List()
		fdNums := make([]int, 0, len(fds))
		for fd := range fds {
			fdNums = append(fdNums, fd)
		}
		sort.Ints(fdNums)
		for _, fd := range fdNums {
			if fds[fd].Inode.Metadata().Kind != vfs.KindSocket {
				continue
			}
			fmt.Fprintf(w, "%d\t%d\tsocket\n", pid, fd)
		}
	}
	return w.Flush()
}
