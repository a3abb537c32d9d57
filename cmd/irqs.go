package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kcore/irq"
)

var irqsCmd = &cobra.Command{
	Use:   "irqs",
	Short: "Dump the IRQ descriptor table",
	Args:  cobra.NoArgs,
	RunE:  runIRQs,
}

func init() {
	rootCmd.AddCommand(irqsCmd)
}

func runIRQs(cmd *cobra.Command, args []string) error {
	if _, err := ensureBooted(); err != nil {
		return err
	}
	descs := irq.Descriptors()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "VECTOR\tPENDING\tPERCPU\tACTIONS")
	for _, d := range descs {
		fmt.Fprintf(w, "%d\t%t\t%t\t%d\n", d.Vector, d.Pending, d.PercpuEnabled, len(d.Actions))
	}
	return w.Flush()
}
