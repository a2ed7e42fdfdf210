package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memphis-civic/cascade-cli/internal/model"
)

var (
	processHeadline string
	processSource   string
	processType     string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a single headline through the cascade",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result := env.Controller.Process(ctx, model.Submission{
			Headline: processHeadline,
			Source:   processSource,
			Type:     model.SubmissionType(processType),
		})

		zap.L().Info("cascade finished",
			zap.String("final_status", string(result.FinalStatus)),
			zap.Int("contracts", len(result.ContractsGenerated)),
			zap.Float64("cost_usd", result.TotalCostUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processHeadline, "headline", "", "headline text (required)")
	processCmd.Flags().StringVar(&processSource, "source", "manual", "headline source label")
	processCmd.Flags().StringVar(&processType, "type", string(model.SubmissionUser), "submission type (feed, user_submission, admin_override)")
	_ = processCmd.MarkFlagRequired("headline")
	rootCmd.AddCommand(processCmd)
}
