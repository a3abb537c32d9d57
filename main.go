package main

import (
	"fmt"
	"os"

	"kcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kcored:", err)
		os.Exit(1)
	}
}
