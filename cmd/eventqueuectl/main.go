package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventqueuectl",
	Short: "eventqueuectl drives an in-process event queue as a standalone process",
	Long: `eventqueuectl wires an eventqueue.MainQueue to a tick-driven worker
loop, a Prometheus metrics endpoint, and a live-reloadable YAML config file.

It is a thin driver around the eventqueue library: everything it does could
equally be done by embedding the library directly in a host process.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "eventqueuectl.yaml", "path to the YAML config file")
	rootCmd.AddCommand(runCmd)
}
