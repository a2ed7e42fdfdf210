package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/memphis-civic/cascade-cli/internal/cost"
	"github.com/memphis-civic/cascade-cli/internal/model"
	"github.com/memphis-civic/cascade-cli/internal/resilience"
	"github.com/memphis-civic/cascade-cli/pkg/anthropic"
)

// DefaultVariantTarget and DefaultVariantMinimum bound structural variant
// generation: aim for the target, backfill with textual fallbacks below the
// minimum.
const (
	DefaultVariantTarget  = 5
	DefaultVariantMinimum = 3
)

const reframeSystemPrompt = `You are an expert contract reframing specialist. Generate structural variants that create genuine 50/50 uncertainty for prediction markets. Respond only in valid JSON format.`

var reframeTemperature = 0.4

// reframeStrategy is one structural reframing approach, ordered by observed
// pass rate.
type reframeStrategy struct {
	Name         string
	Description  string
	Examples     []string
	Weight       float64
	Instructions string
}

var reframeStrategies = []reframeStrategy{
	{
		Name:        "margin_focus",
		Description: "Focus on vote margins, approval thresholds",
		Examples:    []string{"by 2 votes or less", "with simple majority", "by narrow margin"},
		Weight:      1.0,
		Instructions: `- Focus on vote margins, approval thresholds, or support levels
- Create uncertainty about level of support/opposition
- Examples: "by 2 votes or less", "with unanimous approval", "by simple majority"`,
	},
	{
		Name:        "stakeholder_engagement",
		Description: "Focus on stakeholder input and public engagement process",
		Examples:    []string{"following public input period", "after stakeholder review", "with community feedback considered"},
		Weight:      0.9,
		Instructions: `- Focus on stakeholder input, public comment, or engagement milestones
- Create uncertainty about the engagement process outcome
- Examples: "following public input period", "after stakeholder review"`,
	},
	{
		Name:        "decision_timeline",
		Description: "Focus on decision timing and procedural schedule",
		Examples:    []string{"be decided in first quarter", "reach final vote by deadline", "complete review process on schedule"},
		Weight:      0.8,
		Instructions: `- Focus on decision timing and whether the procedural schedule holds
- Create uncertainty about meeting the schedule
- Examples: "reach final vote by deadline", "complete review process on schedule"`,
	},
	{
		Name:        "conditional_approval",
		Description: "Add conditions, requirements, prerequisites",
		Examples:    []string{"without public hearings", "with environmental review", "pending legal approval"},
		Weight:      0.7,
		Instructions: `- Add conditions, requirements, or prerequisites that must be met
- Create uncertainty about meeting conditions
- Examples: "without public hearings", "with environmental review", "pending approval"`,
	},
	{
		Name:        "scope_limitation",
		Description: "Limit scope to specific aspects or phases",
		Examples:    []string{"Phase 1 only", "downtown district only", "pilot program only"},
		Weight:      0.7,
		Instructions: `- Limit scope to specific aspects, phases, or geographic areas
- Create uncertainty about specific limited scope
- Examples: "Phase 1 only", "downtown only", "pilot program only"`,
	},
}

// Generator produces structural contract variants and runs every candidate,
// original included, through the critic.
type Generator struct {
	client  anthropic.Client
	model   string
	calc    *cost.Calculator
	limiter *rate.Limiter
	critic  *Critic
	target  int
	minimum int
}

// NewGenerator builds a variant generator. target/minimum <= 0 use defaults.
func NewGenerator(client anthropic.Client, modelName string, calc *cost.Calculator, limiter *rate.Limiter, critic *Critic, target, minimum int) *Generator {
	if target <= 0 {
		target = DefaultVariantTarget
	}
	if minimum <= 0 {
		minimum = DefaultVariantMinimum
	}
	return &Generator{
		client:  client,
		model:   modelName,
		calc:    calc,
		limiter: limiter,
		critic:  critic,
		target:  target,
		minimum: minimum,
	}
}

type variantResponseJSON struct {
	Title                  string `json:"title"`
	Description            string `json:"description"`
	Timeline               string `json:"timeline"`
	ReframingExplanation   string `json:"reframing_explanation"`
	UncertaintyCreated     string `json:"uncertainty_created"`
	MarketBalanceRationale string `json:"market_balance_rationale"`
}

type generatedVariant struct {
	contract model.Contract
	strategy string
}

// GenerateAndAnalyze produces variants for the contract and scores all of
// them. The best contract is the highest market balance score among passing
// candidates; ties keep the earliest (original first).
func (g *Generator) GenerateAndAnalyze(ctx context.Context, contract model.Contract) *model.VariantOutcome {
	zap.L().Info("generating contract variants", zap.String("title", contract.Title))

	var usage model.TokenUsage
	var costUSD float64

	variants := g.generateStructuralVariants(ctx, contract, &usage, &costUSD)
	if len(variants) < g.minimum {
		zap.L().Warn("structural generation came up short, adding fallbacks",
			zap.Int("generated", len(variants)),
			zap.Int("minimum", g.minimum),
		)
		variants = append(variants, fallbackVariants(contract, g.minimum-len(variants))...)
	}

	outcome := &model.VariantOutcome{GeneratedAt: time.Now().UTC()}

	var best *model.Contract
	bestScore := 0.0
	consider := func(av model.AnalyzedVariant) {
		if av.Analysis.Passed && !av.Analysis.Blocked {
			outcome.Passed++
			if av.Analysis.MarketBalanceScore > bestScore {
				c := av.Contract
				best = &c
				bestScore = av.Analysis.MarketBalanceScore
			}
		} else if av.Analysis.Blocked {
			outcome.Blocked++
		}
	}

	originalAnalysis := g.critic.Analyze(ctx, contract)
	usage.Add(originalAnalysis.Usage)
	costUSD += originalAnalysis.CostUSD
	outcome.Original = model.AnalyzedVariant{
		Kind:     "original",
		Strategy: "none",
		Contract: contract,
		Analysis: originalAnalysis,
	}
	consider(outcome.Original)

	for i, v := range variants {
		analysis := g.critic.Analyze(ctx, v.contract)
		usage.Add(analysis.Usage)
		costUSD += analysis.CostUSD
		av := model.AnalyzedVariant{
			Kind:     fmt.Sprintf("variant_%d", i+1),
			Strategy: v.strategy,
			Contract: v.contract,
			Analysis: analysis,
		}
		outcome.Variants = append(outcome.Variants, av)
		consider(av)
	}

	outcome.Total = 1 + len(outcome.Variants)
	outcome.Best = best
	outcome.Usage = usage
	outcome.CostUSD = costUSD

	switch {
	case outcome.Passed > 0:
		outcome.Recommendation = model.RecommendPublishBest
	case outcome.Blocked == outcome.Total:
		outcome.Recommendation = model.RecommendRejectAll
	default:
		outcome.Recommendation = model.RecommendAdminRescue
	}

	zap.L().Info("variant analysis complete",
		zap.String("title", contract.Title),
		zap.Int("total", outcome.Total),
		zap.Int("passed", outcome.Passed),
		zap.Int("blocked", outcome.Blocked),
		zap.String("recommendation", string(outcome.Recommendation)),
	)

	return outcome
}

// generateStructuralVariants tries each strategy in order until the target
// is met. A strategy that errors or returns unusable JSON is skipped, not
// fatal.
func (g *Generator) generateStructuralVariants(ctx context.Context, contract model.Contract, usage *model.TokenUsage, costUSD *float64) []generatedVariant {
	var variants []generatedVariant
	for _, strategy := range reframeStrategies {
		if len(variants) >= g.target {
			break
		}
		v, err := g.applyStrategy(ctx, contract, strategy, usage, costUSD)
		if err != nil {
			zap.L().Error("reframing strategy failed",
				zap.String("strategy", strategy.Name),
				zap.Error(err),
			)
			continue
		}
		variants = append(variants, generatedVariant{contract: v, strategy: strategy.Name})
	}
	return variants
}

func (g *Generator) applyStrategy(ctx context.Context, contract model.Contract, strategy reframeStrategy, usage *model.TokenUsage, costUSD *float64) (model.Contract, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return model.Contract{}, err
		}
	}

	req := anthropic.MessageRequest{
		Model:       g.model,
		MaxTokens:   1024,
		Temperature: &reframeTemperature,
		System:      anthropic.BuildCachedSystemBlocks(reframeSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildStrategyPrompt(contract, strategy)},
		},
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", "reframe")
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return model.Contract{}, err
	}

	usage.Add(model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	})
	*costUSD += g.calc.Claude(g.model, false,
		int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
		int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))

	var parsed variantResponseJSON
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &parsed); err != nil {
		return model.Contract{}, err
	}
	if parsed.Title == "" || parsed.Description == "" {
		return model.Contract{}, fmt.Errorf("pipeline: variant response missing title or description")
	}

	variant := contract
	variant.Title = parsed.Title
	variant.Description = parsed.Description
	if parsed.Timeline != "" {
		variant.Timeline = parsed.Timeline
	}
	variant.VariantStrategy = strategy.Name
	variant.OriginalTitle = contract.Title
	return variant, nil
}

func buildStrategyPrompt(contract model.Contract, strategy reframeStrategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Generate a structural variant of this Memphis civic contract using the "%s" strategy.

ORIGINAL CONTRACT:
Title: %s
Description: %s
Actor: %s
Timeline: %s

REFRAMING STRATEGY: %s
Examples: %s

GOAL: Create genuine 50/50 uncertainty that would attract rational bettors to both YES and NO sides.

STRATEGY-SPECIFIC INSTRUCTIONS:
%s

RESPONSE FORMAT (JSON):
{
  "title": "Reframed contract title with strategy applied",
  "description": "Updated description incorporating the reframing strategy",
  "timeline": "Updated timeline if relevant to strategy",
  "reframing_explanation": "Brief explanation of how strategy was applied",
  "uncertainty_created": "How this creates genuine 50/50 uncertainty",
  "market_balance_rationale": "Why both YES and NO sides would attract bettors"
}

Ensure the variant creates GENUINE uncertainty that would make both outcomes plausible to rational bettors.`,
		strategy.Name,
		contract.Title,
		contract.Description,
		contract.Actor,
		contract.Timeline,
		strategy.Description,
		strings.Join(strategy.Examples, ", "),
		strategy.Instructions,
	)
	return b.String()
}

// fallbackVariants builds simple textual variants when LLM generation cannot
// meet the minimum. They cost nothing and still face the critic.
func fallbackVariants(contract model.Contract, needed int) []generatedVariant {
	var fallbacks []generatedVariant
	title := contract.Title
	lower := strings.ToLower(title)

	if needed > 0 && !strings.Contains(lower, "by") {
		v := contract
		v.Title = strings.TrimRight(title, "?") + " by the end of the quarter?"
		v.Description = contract.Description + " This contract focuses on whether the timeline can be met."
		v.VariantStrategy = "timing_constraint_fallback"
		v.OriginalTitle = title
		fallbacks = append(fallbacks, generatedVariant{contract: v, strategy: v.VariantStrategy})
		needed--
	}

	if idx := indexFold(title, "approve"); needed > 0 && idx >= 0 {
		end := idx + len("approve")
		v := contract
		v.Title = title[:end] + " by a narrow margin" + title[end:]
		v.Description = contract.Description + " This contract focuses on the margin of approval."
		v.VariantStrategy = "margin_focus_fallback"
		v.OriginalTitle = title
		fallbacks = append(fallbacks, generatedVariant{contract: v, strategy: v.VariantStrategy})
		needed--
	}

	if needed > 0 {
		v := contract
		v.Title = strings.TrimRight(title, "?") + " despite organized opposition?"
		v.Description = contract.Description + " This contract considers potential organized opposition."
		v.VariantStrategy = "opposition_focus_fallback"
		v.OriginalTitle = title
		fallbacks = append(fallbacks, generatedVariant{contract: v, strategy: v.VariantStrategy})
	}

	return fallbacks
}
