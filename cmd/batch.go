package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/memphis-civic/cascade-cli/internal/model"
)

var (
	batchFilePath string
	batchCount    int
)

// batchFile is the on-disk batch format: a list of headlines, each with an
// optional source label.
type batchFile struct {
	Headlines []batchEntry `yaml:"headlines"`
}

type batchEntry struct {
	Headline string `yaml:"headline"`
	Source   string `yaml:"source"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a YAML file of headlines through the cascade",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		subs, err := loadSubmissions(batchFilePath)
		if err != nil {
			return err
		}
		if batchCount > 0 && batchCount < len(subs) {
			subs = subs[:batchCount]
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Processor.ProcessBatch(ctx, subs)
		if err != nil {
			return err
		}

		target := cfg.Batch.ReliabilityTarget
		if env.Processor.MeetsReliabilityTarget(batch) {
			zap.L().Info("batch reliability target met",
				zap.Float64("pipeline_reliability", batch.PipelineReliability),
				zap.Float64("target", target),
			)
		} else {
			zap.L().Warn("batch reliability target missed",
				zap.Float64("pipeline_reliability", batch.PipelineReliability),
				zap.Float64("target", target),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	},
}

// loadSubmissions parses a batch headlines file into submissions.
func loadSubmissions(path string) ([]model.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch file %s", path)
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "parse batch file %s", path)
	}
	if len(file.Headlines) == 0 {
		return nil, eris.Errorf("batch file %s contains no headlines", path)
	}

	subs := make([]model.Submission, 0, len(file.Headlines))
	for _, entry := range file.Headlines {
		if entry.Headline == "" {
			continue
		}
		source := entry.Source
		if source == "" {
			source = "batch-file"
		}
		subs = append(subs, model.Submission{
			Headline: entry.Headline,
			Source:   source,
			Type:     model.SubmissionFeed,
		})
	}
	if len(subs) == 0 {
		return nil, eris.Errorf("batch file %s contains no usable headlines", path)
	}
	return subs, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchFilePath, "file", "", "YAML file of headlines (required)")
	batchCmd.Flags().IntVar(&batchCount, "count", 0, "process at most N headlines from the file")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
