package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query METRIC",
	Short: "Query stored samples for a metric",
	Long: `Query raw samples from the built-in time-series store.

Examples:
  burrow query cpu_usage --since 30m
  burrow query http_requests_total --since 1h -l service=api`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		labelArgs, _ := cmd.Flags().GetStringSlice("label")

		selector := make(map[string]string, len(labelArgs))
		for _, l := range labelArgs {
			k, v, ok := strings.Cut(l, "=")
			if !ok {
				return fmt.Errorf("invalid label selector %q, expected key=value", l)
			}
			selector[k] = v
		}

		now := time.Now()
		c := apiClient(cmd)
		samples, err := c.Query(cmd.Context(), args[0], selector, now.Add(-since), now)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tVALUE\tLABELS")
		for _, s := range samples {
			var labels []string
			for k, v := range s.Labels {
				labels = append(labels, k+"="+v)
			}
			fmt.Fprintf(w, "%s\t%g\t%s\n",
				s.Timestamp.Format(time.RFC3339), s.Value, strings.Join(labels, ","))
		}
		return w.Flush()
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent cluster events",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		events, err := c.Events(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				e.Timestamp.Format("15:04:05"), e.Type, e.Message)
		}
		return w.Flush()
	},
}

func init() {
	queryCmd.Flags().Duration("since", time.Hour, "How far back to query")
	queryCmd.Flags().StringSliceP("label", "l", nil, "Label selector key=value (repeatable)")
}
