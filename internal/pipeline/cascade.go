package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memphis-civic/cascade-cli/internal/cluster"
	"github.com/memphis-civic/cascade-cli/internal/model"
)

// Controller orchestrates the four-layer cascade. Cheap layers run first so
// most headlines are rejected before any expensive model call:
//
//	layer 0  heuristic filter      free
//	layer 1  fast classifier       Haiku
//	layer 2  cluster dedup         free
//	layer 3  variants + critic     Sonnet
type Controller struct {
	classifier *Classifier
	clusters   *cluster.Engine
	generator  *Generator
	totals     *Totals

	now func() time.Time
}

// NewController wires the cascade layers together.
func NewController(classifier *Classifier, clusters *cluster.Engine, generator *Generator, totals *Totals) *Controller {
	if totals == nil {
		totals = &Totals{}
	}
	return &Controller{
		classifier: classifier,
		clusters:   clusters,
		generator:  generator,
		totals:     totals,
		now:        time.Now,
	}
}

// Totals exposes the running counters for the stats command.
func (c *Controller) Totals() *Totals {
	return c.totals
}

// Clusters exposes the dedup engine for stats and eviction.
func (c *Controller) Clusters() *cluster.Engine {
	return c.clusters
}

// Process runs one submission through the cascade. It always returns a
// complete result: every rejection carries the verdicts of the layers that
// ran, actionable user feedback, and the exact cost incurred so far.
func (c *Controller) Process(ctx context.Context, sub model.Submission) *model.PipelineResult {
	start := time.Now()
	headline := sub.Headline

	zap.L().Info("processing headline",
		zap.String("headline", headline),
		zap.String("source", sub.Source),
		zap.String("submission_type", string(sub.Type)),
	)

	result := &model.PipelineResult{
		Headline: headline,
		Source:   sub.Source,
	}

	// Layer 0: free heuristic screen.
	result.FilterVerdict = HeuristicFilter(headline, sub.Source)
	if !result.FilterVerdict.Passed {
		c.totals.Layers.Layer0Fail.Add(1)
		result.FinalStatus = model.StatusBlockLayer0
		result.UserFeedback = layer0Feedback(result.FilterVerdict)
		c.finish(result, "layer_0_block", start)
		return result
	}
	c.totals.Layers.Layer0Pass.Add(1)

	// Layer 1: cheap relevance classifier.
	classifierVerdict := c.classifier.Classify(ctx, headline)
	result.ClassifierVerdict = &classifierVerdict
	result.TotalCostUSD += classifierVerdict.CostUSD
	if !classifierVerdict.Passed {
		c.totals.Layers.Layer1Fail.Add(1)
		result.FinalStatus = model.StatusBlockLayer1
		result.UserFeedback = layer1Feedback(classifierVerdict)
		c.finish(result, "layer_1_block", start)
		return result
	}
	c.totals.Layers.Layer1Pass.Add(1)

	// Layer 2: cluster dedup, one contract per story per day.
	clusterResult := c.clusters.FindOrCreate(headline, classifierVerdict.EntityTags, c.now().UTC())
	result.ClusterVerdict = &model.ClusterVerdict{
		ClusterID:    clusterResult.ClusterID,
		IsPrimary:    clusterResult.IsPrimary,
		SimilarCount: clusterResult.SimilarCount,
		Reason:       clusterResult.Reason,
		LatencyMS:    clusterResult.LatencyMS,
	}
	if !clusterResult.IsPrimary {
		c.totals.Layers.Layer2Duplicate.Add(1)
		result.FinalStatus = model.StatusBlockCluster
		result.UserFeedback = fmt.Sprintf("Similar contract already processed today: %s", clusterResult.Reason)
		c.finish(result, "cluster_duplicate", start)
		return result
	}
	c.totals.Layers.Layer2Primary.Add(1)

	// Layer 3: variant generation and critic enforcement.
	outcome, err := c.runLayer3(ctx, headline, classifierVerdict)
	if err != nil {
		zap.L().Error("layer 3 processing failed", zap.Error(err), zap.String("headline", headline))
		c.totals.Layers.Layer3Fail.Add(1)
		result.FinalStatus = model.StatusBlockLayer3
		result.UserFeedback = fmt.Sprintf("Processing error: %v", err)
		result.AdminReviewRequired = true
		c.finish(result, string(model.StatusBlockLayer3), start)
		return result
	}

	result.VariantOutcome = outcome
	result.TotalCostUSD += outcome.CostUSD

	passing := passingContracts(outcome)
	if len(passing) > 0 {
		c.totals.Layers.Layer3Pass.Add(1)
		c.totals.ContractsGenerated.Add(int64(len(passing)))
		result.ContractsGenerated = passing
		result.FinalStatus = model.StatusPass
		result.UserFeedback = fmt.Sprintf("Generated %d viable contract(s)", len(passing))
	} else {
		c.totals.Layers.Layer3Fail.Add(1)
		result.FinalStatus = model.StatusBlockLayer3
		result.UserFeedback = "Contract failed market viability checks. Try rephrasing for more balanced outcomes."
		result.AdminReviewRequired = true
	}

	c.finish(result, string(result.FinalStatus), start)
	return result
}

// runLayer3 guards the expensive stage with a recover: a panic inside
// generation must never take down a whole batch.
func (c *Controller) runLayer3(ctx context.Context, headline string, verdict model.ClassifierVerdict) (outcome *model.VariantOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("pipeline: layer 3 panic: %v", r)
		}
	}()

	contract := headlineToContract(headline, verdict)
	return c.generator.GenerateAndAnalyze(ctx, contract), nil
}

// finish stamps timing, tracking counters, and narrative signals on a
// completed result.
func (c *Controller) finish(result *model.PipelineResult, narrativeStatus string, start time.Time) {
	result.TotalLatencyMS = msSince(start)
	result.NarrativeSignals = c.narrativeSignals(result, narrativeStatus)

	c.totals.HeadlinesProcessed.Add(1)
	c.totals.AddCost(result.TotalCostUSD)

	zap.L().Info("cascade complete",
		zap.String("headline", result.Headline),
		zap.String("final_status", string(result.FinalStatus)),
		zap.Int("contracts", len(result.ContractsGenerated)),
		zap.Float64("cost_usd", result.TotalCostUSD),
		zap.Float64("latency_ms", result.TotalLatencyMS),
	)
}

// narrativeSignals feed the ostension engine: blocked headlines can still
// carry narrative value even when no contract is generated.
func (c *Controller) narrativeSignals(result *model.PipelineResult, status string) model.NarrativeSignals {
	topic := "unknown"
	var entities []string
	if result.ClassifierVerdict != nil {
		topic = result.ClassifierVerdict.Topic
		entities = result.ClassifierVerdict.EntityTags
	}
	return model.NarrativeSignals{
		Headline:  result.Headline,
		Source:    result.Source,
		Timestamp: c.now().UTC(),
		Status:    status,
		Topic:     topic,
		Entities:  entities,
		NarrativePotential: status == string(model.StatusPass) ||
			status == "layer_1_block" ||
			status == "cluster_duplicate",
	}
}

// headlineToContract builds the base contract that variant generation
// reframes.
func headlineToContract(headline string, verdict model.ClassifierVerdict) model.Contract {
	actor := "Memphis civic entity"
	if len(verdict.EntityTags) > 0 {
		actor = strings.Join(verdict.EntityTags, ", ")
	}
	return model.Contract{
		Title:              headline,
		Description:        fmt.Sprintf("Prediction market for: %s", headline),
		Actor:              actor,
		Timeline:           "To be determined based on headline context",
		ResolutionCriteria: "Official announcement or documented outcome",
		Source:             headline,
		Topic:              verdict.Topic,
		EntityTags:         verdict.EntityTags,
	}
}

// passingContracts collects contracts that cleared the critic, best first
// when a best candidate exists.
func passingContracts(outcome *model.VariantOutcome) []model.Contract {
	var contracts []model.Contract
	appendPassing := func(av model.AnalyzedVariant) {
		if av.Analysis.Passed && !av.Analysis.Blocked {
			contracts = append(contracts, av.Contract)
		}
	}
	appendPassing(outcome.Original)
	for _, v := range outcome.Variants {
		appendPassing(v)
	}
	return contracts
}

func layer0Feedback(v model.FilterVerdict) string {
	feedback := fmt.Sprintf("Missing required elements: %s", strings.Join(v.MissingElements, ", "))
	for _, missing := range v.MissingElements {
		switch missing {
		case "civic_agent":
			feedback += ". Try including a civic entity like 'Memphis City Council' or 'Mayor'."
		case "action_verb":
			feedback += ". Try including an action like 'vote', 'approve', or 'propose'."
		case "timeframe":
			feedback += ". Try including a date or deadline."
		}
	}
	return feedback
}

func layer1Feedback(v model.ClassifierVerdict) string {
	feedback := fmt.Sprintf("Not suitable for prediction market: %s", v.Reason)
	if v.Confidence < 0.3 {
		feedback += " Try making the civic decision or controversy more specific."
	}
	return feedback
}
