package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"crewflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review pending approval requests",
	Long:  `List, answer, and summarize approval requests for risk-gated actions.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests awaiting a decision",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewActionClient(viper.GetString("url"), viper.GetString("token"))

		approvals, err := client.ListApprovals()
		if err != nil {
			cmd.Printf("Error fetching approvals: %s\n", err)
			os.Exit(1)
		}

		if len(approvals) == 0 {
			cmd.Println("No approvals awaiting a decision.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "APPROVAL ID\tACTION\tRISK\tAFFECTED\tREVERSIBLE\tEXPIRES")
		for _, a := range approvals {
			reversible := "yes"
			if !a.Reversible {
				reversible = colorRed + "no" + colorReset
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				a.ID, a.ActionID, colorizeRisk(a.RiskLevel),
				a.AffectedCount, reversible, a.ExpiresAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var approvalsRespondCmd = &cobra.Command{
	Use:   "respond [approval_id]",
	Short: "Approve or reject a gated action",
	Long: `Record a decision on a pending approval request.

Example:
  crewctl approvals respond <id> --approve --reason "checked against the inventory report"
  crewctl approvals respond <id> --reject --reason "discount too aggressive"
  crewctl approvals respond <id> --approve --params '{"price":24.99}' --condition "re-run sync afterwards"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		approve, _ := flags.GetBool("approve")
		reject, _ := flags.GetBool("reject")
		reason, _ := flags.GetString("reason")
		params, _ := flags.GetString("params")
		conditions, _ := flags.GetStringSlice("condition")

		if approve == reject {
			cmd.Println("Error: exactly one of --approve or --reject is required")
			return
		}
		if params != "" && !json.Valid([]byte(params)) {
			cmd.Println("Error: --params must be valid JSON")
			return
		}

		req := api.RespondApprovalRequest{
			Approved:   approve,
			Conditions: conditions,
		}
		if reason != "" {
			req.Reason = &reason
		}
		if params != "" {
			req.ModifiedParams = json.RawMessage(params)
		}

		client := NewActionClient(viper.GetString("url"), viper.GetString("token"))
		if err := client.RespondApproval(args[0], req); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		if approve {
			cmd.Println("✓ Approved")
		} else {
			cmd.Println("✗ Rejected")
		}
	},
}

var approvalsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize approval outcomes",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewActionClient(viper.GetString("url"), viper.GetString("token"))

		stats, err := client.ApprovalStats()
		if err != nil {
			cmd.Printf("Error fetching stats: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("Pending:   %d\n", stats.Pending)
		cmd.Printf("Approved:  %d\n", stats.Approved)
		cmd.Printf("Rejected:  %d\n", stats.Rejected)
		cmd.Printf("Expired:   %d\n", stats.Expired)
		avg := time.Duration(stats.AverageResponseSeconds * float64(time.Second))
		cmd.Printf("Avg response time: %s\n", avg.Round(time.Second))
	},
}

func colorizeRisk(risk string) string {
	switch risk {
	case "critical":
		return colorRed + risk + colorReset
	case "medium":
		return colorYellow + risk + colorReset
	default:
		return colorGreen + risk + colorReset
	}
}

func init() {
	flags := approvalsRespondCmd.Flags()
	flags.Bool("approve", false, "Approve the action")
	flags.Bool("reject", false, "Reject the action")
	flags.String("reason", "", "Reason recorded with the decision")
	flags.String("params", "", "Modified action parameters as JSON (approval only)")
	flags.StringSlice("condition", nil, "Conditions attached to the approval")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsRespondCmd)
	approvalsCmd.AddCommand(approvalsStatsCmd)
	rootCmd.AddCommand(approvalsCmd)
}
