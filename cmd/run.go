package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trendwire/ingest/internal/app"
	"github.com/trendwire/ingest/internal/pipeline"
	"github.com/trendwire/ingest/internal/signal"
)

func newRunCmd() *cobra.Command {
	var sourceIDs []string
	var force bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one ingestion run and print its report.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Pipeline.Run(cmd.Context(), pipeline.Options{
				SourceIDs: sourceIDs,
				Force:     force,
			})
			if err != nil {
				return fmt.Errorf("ingestion run: %w", err)
			}

			payload, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))

			if report.Status == signal.RunStatusError {
				a.Logger.Error("run finished with errors", zap.String("run_id", report.RunID))
				return fmt.Errorf("run %s failed", report.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sourceIDs, "source", nil, "restrict the run to these source IDs (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "re-admit documents whose URL or hash is already stored")

	return cmd
}
