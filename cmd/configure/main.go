package main

import (
	"fmt"
	"os"

	"github.com/benvon/chapters-api/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "chapters-configure",
		Short: "Operations tool for the Chapters API",
		Long:  "CLI tool for inspecting rate limits, purging the response cache and importing chapters",
	}

	rootCmd.AddCommand(commands.NewLimitsCmd())
	rootCmd.AddCommand(commands.NewCacheCmd())
	rootCmd.AddCommand(commands.NewChaptersCmd())
	rootCmd.AddCommand(commands.NewPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
