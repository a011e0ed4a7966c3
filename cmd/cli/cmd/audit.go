package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var auditCmd = &cobra.Command{
	Use:   "audit [action_id]",
	Short: "Show an action's audit trail",
	Long:  `Print every recorded transition of an action in order: who moved it, from which status to which, and why.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the CREWFLOW_TOKEN environment variable")
			return
		}

		client := NewActionClient(viper.GetString("url"), token)
		events, err := client.GetAudit(args[0])
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		if len(events) == 0 {
			cmd.Println("No audit events found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTOR\tEVENT\tTRANSITION\tDETAIL")
		for _, ev := range events {
			transition := ev.ToStatus
			if ev.FromStatus != "" {
				transition = ev.FromStatus + " → " + ev.ToStatus
			}
			detail := ""
			if ev.Detail != nil {
				detail = *ev.Detail
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				ev.CreatedAt.Format(time.RFC3339), ev.Actor, ev.Event, transition, detail)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
