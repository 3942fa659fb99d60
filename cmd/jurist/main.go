package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "jurist",
	Short:         "Legal Q&A service for questions about Russian law",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(clustersCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
