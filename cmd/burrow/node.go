package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage cluster nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes in the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		nodes, err := c.ListNodes(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tROLE\tSTATUS\tAVAILABILITY\tADDRESS\tLAST HEARTBEAT")
		for _, n := range nodes {
			heartbeat := "never"
			if !n.LastHeartbeat.IsZero() {
				heartbeat = time.Since(n.LastHeartbeat).Round(time.Second).String() + " ago"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				n.ID, n.Role, n.Status, n.Availability, n.Address, heartbeat)
		}
		return w.Flush()
	},
}

var nodeDrainCmd = &cobra.Command{
	Use:   "drain ID",
	Short: "Stop new task placements on a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		if err := c.DrainNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("node/%s draining\n", args[0])
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a node from the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("node ID is required")
		}
		c := apiClient(cmd)
		if err := c.LeaveNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("node/%s removed\n", args[0])
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeDrainCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
}
