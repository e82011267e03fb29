package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/screentask/screentask/cmd/admin/commands"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "screentask-admin",
		Short: "Operational tool for ScreenTask",
		Long:  "CLI tool for one-off maintenance: orphan migration, schedule sweeps, and backup inspection",
	}

	rootCmd.AddCommand(commands.NewMigrateOrphansCmd())
	rootCmd.AddCommand(commands.NewSweepCmd())
	rootCmd.AddCommand(commands.NewBackupsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
