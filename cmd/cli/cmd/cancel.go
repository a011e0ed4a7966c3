package cmd

import (
	"crewflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [action_id]",
	Short: "Cancel an action",
	Long: `Cancel a pending or scheduled action. An executing action is flagged
for cancellation and stops at the worker's next checkpoint.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the CREWFLOW_TOKEN environment variable")
			return
		}

		reason, _ := cmd.Flags().GetString("reason")

		client := NewActionClient(viper.GetString("url"), token)
		action, err := client.CancelAction(args[0], api.CancelActionRequest{Reason: reason})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		if action.Status == "executing" {
			cmd.Printf("⏳ Cancellation requested; action %s stops at the next worker checkpoint\n", action.ID)
			return
		}
		cmd.Printf("✓ Action %s cancelled\n", action.ID)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [action_id]",
	Short: "Trigger an action immediately",
	Long: `Make a pending or scheduled action due right now, skipping its
remaining wait. Approval gating still applies: an unapproved gated action
cannot be triggered.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the CREWFLOW_TOKEN environment variable")
			return
		}

		client := NewActionClient(viper.GetString("url"), token)
		action, err := client.TriggerAction(args[0])
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Action %s scheduled for immediate execution\n", action.ID)
	},
}

func init() {
	cancelCmd.Flags().String("reason", "", "Reason recorded in the audit trail")

	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(triggerCmd)
}
