package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/feedbackflow/internal/config"
)

var version = "dev"

var (
	noColor    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "feedbackflow",
	Short:         "Collect page feedback into a local log",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file layered over the platform settings")

	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		mcpCmd,
		sendCmd,
		logCmd,
		entriesCmd,
		clearCmd,
		verboseCmd,
		addressCmd,
		hostCmd,
		configCmd,
	)
}

func loadConfig() (config.Config, error) {
	return config.LoadFile(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
