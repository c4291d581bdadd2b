// Package main provides the entry point for the taskpipe pipeline service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskpipe",
	Short: "Pipeline orchestration and ingestion service",
	Long:  "taskpipe ingests moderation task data from a remote analytics service into Postgres and exposes a REST API for triggering and inspecting pipeline runs.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
