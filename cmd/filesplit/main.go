// Package main provides the entry point for the filesplit CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/filesplit/cmd/filesplit/commands"
	"github.com/Sumatoshi-tech/filesplit/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "filesplit",
		Short: "Filesplit - fault-tolerant file discovery and block splitting",
		Long: `Filesplit watches directories, splits discovered files into fixed-size
block ranges, and persists every processing cycle so an interrupted run
replays committed cycles verbatim instead of re-reading the filesystem.

Commands:
  run       Discover and split files across processing windows`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "filesplit %s\n", version.String())
		},
	}
}
