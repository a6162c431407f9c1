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
	Short: "Burrow - clustered service orchestration and observability",
	Long: `Burrow is a control plane for clustered services: it schedules
replicated workloads across nodes, publishes their endpoints for
discovery, scrapes their metrics into a built-in time-series store,
and evaluates alerting rules over it. Single binary, embedded state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manager", "localhost:8080", "Manager API address")

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(alertCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(eventsCmd)
}
