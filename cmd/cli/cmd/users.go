package cmd

import (
	"crewflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account and print its API key",
	Long: `Create a new user account. The API key is printed exactly once and
cannot be recovered; store it somewhere safe.

Example:
  crewctl users create --name "acme-store" --tier pro`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		tier, _ := cmd.Flags().GetString("tier")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewActionClient(viper.GetString("url"), viper.GetString("token"))
		result, err := client.CreateUser(api.CreateUserRequest{Name: name, Tier: tier})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ User created!\nID: %s\nName: %s\nTier: %s\n", result.ID, result.Name, result.Tier)
		cmd.Printf("API Key (shown once): %s\n", result.APIKey)
	},
}

func init() {
	usersCreateCmd.Flags().StringP("name", "n", "", "Account name (required)")
	usersCreateCmd.Flags().String("tier", "", "Quota tier: free, pro, enterprise (default free)")

	usersCmd.AddCommand(usersCreateCmd)
	rootCmd.AddCommand(usersCmd)
}
