package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "crewctl",
	Short: "Crewctl is a command line tool for the CrewFlow action platform",
	Long: `crewctl is the command-line interface for CrewFlow, the autonomous
action scheduling and approval platform.

CrewFlow lets commerce agents propose side-effecting actions (price changes,
inventory syncs, order fulfillment) that are risk-classified, optionally gated
behind human approval, scheduled, and executed with retries and a full audit
trail.

Common workflows:

  Propose an action:
    crewctl propose --agent inventory-agent --type sync_catalog --data '{"product_id":"p1"}'

  List what is queued:
    crewctl list

  Review and approve a gated action:
    crewctl approvals list
    crewctl approvals respond <approval-id> --approve --reason "verified"

  Inspect an action's full history:
    crewctl audit <action-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    CREWFLOW_URL      API endpoint (default: http://localhost:6161)
    CREWFLOW_TOKEN    User API token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".crewctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".crewctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CREWFLOW_VARNAME"
	viper.SetEnvPrefix("CREWFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.crewctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "CrewFlow Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API Token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
