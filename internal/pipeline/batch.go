package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/memphis-civic/cascade-cli/internal/cluster"
	"github.com/memphis-civic/cascade-cli/internal/model"
	"github.com/memphis-civic/cascade-cli/internal/store"
)

const (
	// DefaultBatchConcurrency bounds parallel cascade workers per batch.
	DefaultBatchConcurrency = 5

	// DefaultReliabilityTarget is the minimum share of submissions that must
	// reach a deliberate disposition (published, blocked, or queued for
	// rescue) rather than failing outright.
	DefaultReliabilityTarget = 0.8
)

// BatchProcessor runs many submissions through the cascade concurrently,
// aggregates the outcomes, and persists the batch plus any admin-rescue
// entries. One bad headline never aborts the batch.
type BatchProcessor struct {
	controller        *Controller
	store             store.Store
	concurrency       int
	reliabilityTarget float64
	clusterRetention  time.Duration
}

// NewBatchProcessor wires a processor. A nil store disables persistence;
// clusterRetention <= 0 falls back to the cluster engine's default.
func NewBatchProcessor(controller *Controller, st store.Store, concurrency int, reliabilityTarget float64, clusterRetention time.Duration) *BatchProcessor {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if concurrency > maxDirectConcurrency {
		concurrency = maxDirectConcurrency
	}
	if reliabilityTarget <= 0 {
		reliabilityTarget = DefaultReliabilityTarget
	}
	if clusterRetention <= 0 {
		clusterRetention = cluster.DefaultRetention
	}
	return &BatchProcessor{
		controller:        controller,
		store:             st,
		concurrency:       concurrency,
		reliabilityTarget: reliabilityTarget,
		clusterRetention:  clusterRetention,
	}
}

// MeetsReliabilityTarget reports whether a batch's pipeline reliability
// reached the configured target.
func (p *BatchProcessor) MeetsReliabilityTarget(batch *model.BatchResult) bool {
	return batch.PipelineReliability >= p.reliabilityTarget
}

// ProcessBatch processes submissions and returns the aggregate result.
// Outcomes keep submission order regardless of worker scheduling.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, subs []model.Submission) (*model.BatchResult, error) {
	if len(subs) == 0 {
		return nil, eris.New("pipeline: batch has no submissions")
	}

	start := time.Now()
	batchID := uuid.New().String()

	zap.L().Info("processing batch",
		zap.String("batch_id", batchID),
		zap.Int("submissions", len(subs)),
		zap.Int("concurrency", p.concurrency),
	)

	outcomes := make([]model.ContractOutcome, len(subs))
	feedback := make([]string, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("batch worker panic",
						zap.String("batch_id", batchID),
						zap.String("headline", sub.Headline),
						zap.Any("panic", r),
					)
					outcomes[i] = model.ContractOutcome{
						Headline:    sub.Headline,
						Source:      sub.Source,
						Status:      model.OutcomeFailed,
						ProcessedAt: time.Now().UTC(),
					}
				}
			}()

			result := p.controller.Process(gctx, sub)
			outcomes[i] = outcomeFor(sub, result)
			feedback[i] = result.UserFeedback
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()

	batch := p.aggregate(batchID, subs, outcomes, start)

	if !p.MeetsReliabilityTarget(batch) {
		zap.L().Warn("pipeline reliability below target",
			zap.String("batch_id", batchID),
			zap.Float64("pipeline_reliability", batch.PipelineReliability),
			zap.Float64("target", p.reliabilityTarget),
		)
	}
	zap.L().Info("batch complete",
		zap.String("batch_id", batchID),
		zap.Int("published", batch.Published),
		zap.Int("blocked", batch.Blocked),
		zap.Int("admin_rescue", batch.AdminRescue),
		zap.Int("failed", batch.Failed),
		zap.Float64("reliability", batch.PipelineReliability),
		zap.Float64("cost_usd", batch.TotalCostUSD),
	)

	// Clusters that have not produced a contract within the retention window
	// are dropped between batches.
	if clusters := p.controller.Clusters(); clusters != nil {
		clusters.Evict(time.Now().UTC(), p.clusterRetention)
	}

	if p.store == nil {
		return batch, nil
	}
	if err := p.store.SaveBatch(ctx, batch); err != nil {
		return batch, eris.Wrap(err, "pipeline: persist batch")
	}
	if err := p.store.EnqueueRescue(ctx, rescueEntries(batch, feedback)); err != nil {
		return batch, eris.Wrap(err, "pipeline: enqueue rescue entries")
	}
	return batch, nil
}

// outcomeFor maps one cascade result to its batch disposition. A layer 3
// block where every candidate was deliberately rejected is a block; any
// other layer 3 failure goes to the rescue queue for a human decision.
func outcomeFor(sub model.Submission, result *model.PipelineResult) model.ContractOutcome {
	outcome := model.ContractOutcome{
		Headline:           sub.Headline,
		Source:             sub.Source,
		PipelineStatus:     result.FinalStatus,
		ContractsGenerated: len(result.ContractsGenerated),
		CostUSD:            result.TotalCostUSD,
		ProcessedAt:        time.Now().UTC(),
	}

	switch result.FinalStatus {
	case model.StatusPass:
		outcome.Status = model.OutcomePublished
	case model.StatusBlockLayer3:
		if result.VariantOutcome != nil && result.VariantOutcome.Recommendation == model.RecommendRejectAll {
			outcome.Status = model.OutcomeBlocked
			outcome.BlockingIssueTypes = blockingIssuesFrom(result.VariantOutcome)
		} else {
			outcome.Status = model.OutcomeAdminRescue
		}
	default:
		outcome.Status = model.OutcomeBlocked
	}
	return outcome
}

// blockingIssuesFrom collects the distinct blocking issue types across the
// original and all variants, in first-seen order.
func blockingIssuesFrom(outcome *model.VariantOutcome) []model.IssueType {
	seen := make(map[model.IssueType]bool)
	var types []model.IssueType
	collect := func(av model.AnalyzedVariant) {
		for _, issue := range av.Analysis.BlockingIssues {
			if !seen[issue.Type] {
				seen[issue.Type] = true
				types = append(types, issue.Type)
			}
		}
	}
	collect(outcome.Original)
	for _, v := range outcome.Variants {
		collect(v)
	}
	return types
}

func (p *BatchProcessor) aggregate(batchID string, subs []model.Submission, outcomes []model.ContractOutcome, start time.Time) *model.BatchResult {
	batch := &model.BatchResult{
		BatchID:          batchID,
		Timestamp:        time.Now().UTC(),
		TotalSubmissions: len(subs),
		Outcomes:         outcomes,
	}

	for _, o := range outcomes {
		batch.TotalCostUSD += o.CostUSD
		switch o.Status {
		case model.OutcomePublished:
			batch.Published++
		case model.OutcomeBlocked:
			batch.Blocked++
		case model.OutcomeAdminRescue:
			batch.AdminRescue++
		case model.OutcomeFailed:
			batch.Failed++
		}
	}

	total := float64(len(outcomes))
	batch.PipelineReliability = float64(batch.Published+batch.Blocked+batch.AdminRescue) / total
	batch.EnforcementRate = float64(batch.Blocked) / total
	batch.ProcessingTimeMS = msSince(start)
	return batch
}

func rescueEntries(batch *model.BatchResult, feedback []string) []model.RescueEntry {
	var entries []model.RescueEntry
	for i, o := range batch.Outcomes {
		if o.Status != model.OutcomeAdminRescue {
			continue
		}
		reason := feedback[i]
		if reason == "" {
			reason = "candidate for manual rescue"
		}
		entries = append(entries, model.RescueEntry{
			BatchID:  batch.BatchID,
			Headline: o.Headline,
			Reason:   reason,
		})
	}
	return entries
}
