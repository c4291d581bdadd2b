package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/ingest"
	"github.com/jonathan/taskpipe/internal/pipeline"
	"github.com/jonathan/taskpipe/internal/redash"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger one pipeline run from the command line",
	Long: `Execute a single pipeline run synchronously, the same path the HTTP API uses.

Example:
  taskpipe run --pipeline ingest --mode raw --from 2026-08-01T00:00:00Z --to 2026-08-02T00:00:00Z`,
	RunE: runPipeline,
}

var (
	runPipelineName string
	runMode         string
	runRangeFrom    string
	runRangeTo      string
)

func init() {
	runCmd.Flags().StringVar(&runPipelineName, "pipeline", "", "Pipeline to run (ingest|recalc)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Pipeline mode (raw|corrections|defects|aggregate)")
	runCmd.Flags().StringVar(&runRangeFrom, "from", "", "Range start, RFC3339 (required for ingest)")
	runCmd.Flags().StringVar(&runRangeTo, "to", "", "Range end, RFC3339 (required for ingest)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	database, err := db.Connect(cmd.Context(), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	redashConfig, err := redash.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to create redash config: %w", err)
	}
	client := redash.NewClient(redashConfig, nil)

	registry := pipeline.NewRegistry(database)
	runner := pipeline.NewRunner(registry, ingest.Workers(client, database), "cli")

	report, err := runner.Execute(context.Background(), &pipeline.RunRequest{
		Pipeline:  runPipelineName,
		Mode:      runMode,
		Trigger:   string(pipeline.TriggerManual),
		RangeFrom: runRangeFrom,
		RangeTo:   runRangeTo,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s finished: status=%s duration=%dms", report.RunID, report.Status, report.DurationMs)
	if report.RowsProcessed != nil {
		fmt.Printf(" rows=%d", *report.RowsProcessed)
	}
	fmt.Println()
	if report.ErrorMessage != nil {
		return fmt.Errorf("run finished with error: %s", *report.ErrorMessage)
	}
	return nil
}
