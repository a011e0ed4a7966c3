package cmd

import (
	"fmt"
	"time"

	"crewflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var getCmd = &cobra.Command{
	Use:   "get [action_id]",
	Short: "Get details of an action",
	Long:  `Retrieve full details for an action record, including its schedule, approval state, retry budget, and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the CREWFLOW_TOKEN environment variable")
			return
		}

		client := NewActionClient(viper.GetString("url"), token)
		action, err := client.GetAction(args[0])
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		printAction(cmd, *action)
	},
}

func printAction(cmd *cobra.Command, a api.ActionResponse) {
	icon := statusIcon(a.Status)
	cmd.Printf("%s %sAction Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s            %s\n", colorDim, colorReset, a.ID)
	cmd.Printf("%sAgent:%s         %s\n", colorDim, colorReset, a.AgentID)
	cmd.Printf("%sType:%s          %s\n", colorDim, colorReset, a.ActionType)
	cmd.Printf("%sPriority:%s      %s\n", colorDim, colorReset, a.Priority)
	cmd.Printf("%sStatus:%s        %s\n", colorDim, colorReset, colorizeStatus(a.Status))
	cmd.Printf("%sSchedule:%s      %s\n", colorDim, colorReset, describeSchedule(a.Schedule))

	if a.ApprovalRequired {
		cmd.Printf("%sApproval:%s      %s\n", colorDim, colorReset, a.ApprovalStatus)
	}
	if len(a.Dependencies) > 0 {
		cmd.Printf("%sDepends on:%s    %v\n", colorDim, colorReset, a.Dependencies)
	}
	if len(a.Tags) > 0 {
		cmd.Printf("%sTags:%s          %v\n", colorDim, colorReset, a.Tags)
	}

	cmd.Printf("%sRetries:%s       %d/%d\n", colorDim, colorReset, a.RetryCount, a.MaxRetries)
	if a.ErrorMessage != nil {
		cmd.Printf("%sError:%s         %s%s%s\n", colorDim, colorReset, colorRed, *a.ErrorMessage, colorReset)
	}
	if a.ChainedFrom != nil {
		cmd.Printf("%sChained from:%s  %s\n", colorDim, colorReset, *a.ChainedFrom)
	}

	cmd.Printf("%sCreated:%s       %s\n", colorDim, colorReset, formatTimeWithRelative(&a.CreatedAt))
	cmd.Printf("%sScheduled for:%s %s\n", colorDim, colorReset, formatTimeWithRelative(a.ScheduledFor))
	if a.ExecutedAt != nil {
		cmd.Printf("%sExecuted:%s      %s\n", colorDim, colorReset, formatTimeWithRelative(a.ExecutedAt))
	}
	if a.CompletedAt != nil {
		cmd.Printf("%sCompleted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(a.CompletedAt))
	}
	if len(a.Result) > 0 {
		cmd.Printf("%sResult:%s        %s\n", colorDim, colorReset, string(a.Result))
	}
}

func describeSchedule(s api.ScheduleRequest) string {
	switch s.Type {
	case "delayed":
		if s.RunAt != nil {
			return fmt.Sprintf("delayed until %s", s.RunAt.Format(time.RFC3339))
		}
		return "delayed"
	case "recurring":
		return fmt.Sprintf("recurring (%s)", s.Cron)
	case "conditional":
		return fmt.Sprintf("conditional (%d conditions)", len(s.Conditions))
	default:
		return "immediate"
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "cancelled":
		return colorDim + "⊘" + colorReset
	case "executing":
		return colorYellow + "⏳" + colorReset
	case "pending", "scheduled":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "completed":
		return colorGreen + status + colorReset
	case "failed":
		return colorRed + status + colorReset
	case "executing":
		return colorYellow + status + colorReset
	case "pending", "scheduled":
		return colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)
	future := duration < 0
	if future {
		duration = -duration
	}

	var s string
	switch {
	case duration < time.Minute:
		s = fmt.Sprintf("%ds", int(duration.Seconds()))
	case duration < time.Hour:
		s = fmt.Sprintf("%dm", int(duration.Minutes()))
	case duration < 24*time.Hour:
		s = fmt.Sprintf("%dh", int(duration.Hours()))
	default:
		days := int(duration.Hours() / 24)
		if days == 1 {
			s = "1 day"
		} else {
			s = fmt.Sprintf("%d days", days)
		}
	}
	if future {
		return "in " + s
	}
	return s + " ago"
}

func init() {
	rootCmd.AddCommand(getCmd)
}
