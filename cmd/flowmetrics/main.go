package main

import (
	"fmt"
	"os"

	"github.com/ignatij/flowmetrics/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowmetrics",
	Short: "Execution metrics for n8n workflows",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
