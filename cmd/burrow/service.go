package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage services",
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List services",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		services, err := c.ListServices(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tIMAGE\tREPLICAS\tSTATUS")
		for _, s := range services {
			status := "active"
			if s.Removing {
				status = "removing"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.Image, s.Replicas, status)
		}
		return w.Flush()
	},
}

var serviceTasksCmd = &cobra.Command{
	Use:   "tasks NAME",
	Short: "List a service's tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		tasks, err := c.ServiceTasks(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNODE\tDESIRED\tACTUAL\tADDRESS")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.NodeID, t.DesiredState, t.ActualState, t.Address)
		}
		return w.Flush()
	},
}

var serviceScaleCmd = &cobra.Command{
	Use:   "scale NAME REPLICAS",
	Short: "Change a service's desired replica count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var replicas int
		if _, err := fmt.Sscanf(args[1], "%d", &replicas); err != nil {
			return fmt.Errorf("invalid replica count %q", args[1])
		}

		c := apiClient(cmd)
		if err := c.ScaleService(cmd.Context(), args[0], replicas); err != nil {
			return err
		}
		fmt.Printf("service/%s scaled to %d\n", args[0], replicas)
		return nil
	},
}

var serviceRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a service, draining its tasks first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		if err := c.RemoveService(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("service/%s removal requested\n", args[0])
		return nil
	},
}

var serviceEndpointsCmd = &cobra.Command{
	Use:   "endpoints NAME",
	Short: "Show a service's live endpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		endpoints, err := c.Endpoints(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tTASK\tNODE")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ep.Addr, ep.TaskID, ep.NodeID)
		}
		return w.Flush()
	},
}

func init() {
	serviceCmd.AddCommand(serviceListCmd)
	serviceCmd.AddCommand(serviceTasksCmd)
	serviceCmd.AddCommand(serviceScaleCmd)
	serviceCmd.AddCommand(serviceRemoveCmd)
	serviceCmd.AddCommand(serviceEndpointsCmd)
}

// apiClient builds a client for the manager the command is pointed at
func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("manager")
	return client.NewClient(addr)
}
