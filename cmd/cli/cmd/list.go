package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"crewflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and in-flight actions",
	Long:  `List actions that are pending approval, scheduled, or currently executing, most urgent first.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewActionClient(viper.GetString("url"), viper.GetString("token"))

		actions, err := client.ListPending(filterQuery(cmd, 0))
		if err != nil {
			cmd.Printf("Error fetching actions: %s\n", err)
			os.Exit(1)
		}

		if len(actions) == 0 {
			cmd.Println("No pending actions.")
			return
		}
		printActionTable(cmd, actions)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past and present actions, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewActionClient(viper.GetString("url"), viper.GetString("token"))

		limit, _ := cmd.Flags().GetInt("limit")
		actions, err := client.ListHistory(filterQuery(cmd, limit))
		if err != nil {
			cmd.Printf("Error fetching history: %s\n", err)
			os.Exit(1)
		}

		if len(actions) == 0 {
			cmd.Println("No actions found.")
			return
		}
		printActionTable(cmd, actions)
	},
}

// filterQuery assembles the shared listing filters into a query string.
func filterQuery(cmd *cobra.Command, limit int) string {
	values := url.Values{}
	if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
		values.Set("agent_id", agent)
	}
	if actionType, _ := cmd.Flags().GetString("type"); actionType != "" {
		values.Set("action_type", actionType)
	}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		values.Set("status", status)
	}
	if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
		values.Set("tag", tag)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func printActionTable(cmd *cobra.Command, actions []api.ActionResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tTYPE\tPRIORITY\tSTATUS\tAPPROVAL\tSCHEDULED FOR")
	for _, a := range actions {
		scheduledFor := "-"
		if a.ScheduledFor != nil {
			scheduledFor = a.ScheduledFor.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.AgentID, a.ActionType, a.Priority,
			colorizeStatus(a.Status), a.ApprovalStatus, scheduledFor)
	}
	w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{listCmd, historyCmd} {
		flags := c.Flags()
		flags.StringP("agent", "a", "", "Filter by agent ID")
		flags.String("type", "", "Filter by action type")
		flags.String("status", "", "Filter by status")
		flags.String("tag", "", "Filter by tag")
	}
	historyCmd.Flags().Int("limit", 0, "Maximum number of records (default 50)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
}
