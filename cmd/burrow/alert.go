package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage alerting rules and inspect live alerts",
}

var alertRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List alerting rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		rules, err := c.ListAlertRules(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tEXPR\tFOR")
		for _, r := range rules {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Expr, r.For)
		}
		return w.Flush()
	},
}

var alertDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an alerting rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		if err := c.DeleteAlertRule(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("alertrule/%s deleted\n", args[0])
		return nil
	},
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live alert instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		c := apiClient(cmd)
		alerts, err := c.Alerts(cmd.Context(), state)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tSTATE\tVALUE\tACTIVE SINCE")
		for _, a := range alerts {
			active := ""
			if !a.ActiveAt.IsZero() {
				active = a.ActiveAt.Format("15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", a.RuleName, a.State, a.Value, active)
		}
		return w.Flush()
	},
}

func init() {
	alertListCmd.Flags().String("state", "", "Filter by state (pending, firing, resolved)")

	alertCmd.AddCommand(alertRulesCmd)
	alertCmd.AddCommand(alertDeleteCmd)
	alertCmd.AddCommand(alertListCmd)
}
