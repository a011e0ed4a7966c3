package cmd

import (
	"encoding/json"
	"time"

	"crewflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a new autonomous action",
	Long: `Propose an action on behalf of an agent. The action is risk-classified
and may be held for human approval before it is scheduled.

Example:
  crewctl propose --agent inventory-agent --type sync_catalog --data '{"product_id":"p1"}'
  crewctl propose --agent pricing-agent --type update_price --data '{"product_id":"p1","price":19.99}' --priority high
  crewctl propose --agent marketing-agent --type publish_product --data '{"product_id":"p2"}' --at 2026-09-01T09:00:00Z
  crewctl propose --agent inventory-agent --type sync_catalog --data '{}' --cron "0 * * * *"`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		agentID, _ := flags.GetString("agent")
		actionType, _ := flags.GetString("type")
		data, _ := flags.GetString("data")
		priority, _ := flags.GetString("priority")
		runAt, _ := flags.GetString("at")
		cron, _ := flags.GetString("cron")
		approval, _ := flags.GetBool("approval")
		deps, _ := flags.GetStringSlice("depends-on")
		tags, _ := flags.GetStringSlice("tag")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the CREWFLOW_TOKEN environment variable")
			return
		}

		if agentID == "" {
			cmd.Println("Error: --agent is required")
			return
		}
		if actionType == "" {
			cmd.Println("Error: --type is required")
			return
		}
		if data != "" && !json.Valid([]byte(data)) {
			cmd.Println("Error: --data must be valid JSON")
			return
		}

		req := api.ProposeActionRequest{
			AgentID:          agentID,
			ActionType:       actionType,
			Priority:         priority,
			ApprovalRequired: approval,
			Dependencies:     deps,
			Tags:             tags,
		}
		if data != "" {
			req.ActionData = json.RawMessage(data)
		}

		switch {
		case runAt != "":
			t, err := time.Parse(time.RFC3339, runAt)
			if err != nil {
				cmd.Printf("Error: --at must be RFC3339 (e.g. 2026-09-01T09:00:00Z): %v\n", err)
				return
			}
			req.Schedule = &api.ScheduleRequest{Type: "delayed", RunAt: &t}
		case cron != "":
			req.Schedule = &api.ScheduleRequest{Type: "recurring", Cron: cron}
		}

		client := NewActionClient(url, token)
		result, err := client.ProposeAction(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Action proposed!\nID: %s\nStatus: %s\nScheduled for: %s\n",
			result.Action.ID, result.Action.Status, formatTimePtr(result.Action.ScheduledFor))
		if result.Approval != nil {
			cmd.Printf("⚠ Held for approval (%s risk), approval ID: %s, expires: %s\n",
				result.Approval.RiskLevel, result.Approval.ID,
				result.Approval.ExpiresAt.Format(time.RFC3339))
		}
	},
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func init() {
	flags := proposeCmd.Flags()
	flags.StringP("agent", "a", "", "Proposing agent ID (required)")
	flags.String("type", "", "Action type, e.g. update_price (required)")
	flags.StringP("data", "d", "", "Action payload as JSON")
	flags.StringP("priority", "p", "", "Priority: low, medium, high, critical")
	flags.String("at", "", "Delayed schedule: RFC3339 time to run at")
	flags.String("cron", "", "Recurring schedule: cron spec, e.g. \"0 * * * *\"")
	flags.Bool("approval", false, "Explicitly require human approval")
	flags.StringSlice("depends-on", nil, "Action IDs that must complete first")
	flags.StringSlice("tag", nil, "Tags to attach")

	rootCmd.AddCommand(proposeCmd)
}
