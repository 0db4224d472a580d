package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - HA coordinator for virtualization management planes",
	Long: `Burrow keeps guest virtual machines running through host and VM
failures. It drives a durable, retrying state machine over asynchronous
recovery work: investigate a suspect host, fence lost VMs, then stop,
migrate, restart, or destroy them on surviving capacity.

Multiple management peers share one work queue; leases guarantee each
item executes on at most one peer at a time.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}
