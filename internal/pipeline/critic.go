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

// criticRubricVersion is recorded on every analysis for the audit trail.
const criticRubricVersion = "2025.07v2-market-balance"

// DefaultBalanceThreshold is the minimum market balance score to pass.
const DefaultBalanceThreshold = 0.4

// criticConfidenceOverride: issues the model is this sure about force an
// admin override even when not blocking.
const criticConfidenceOverride = 0.9

const criticSystemPrompt = `You are an expert contract critic for prediction markets with institutional-grade market viability standards. Analyze contracts for genuine market viability (30-70% probability range). Respond only in valid JSON format.`

const criticPromptHeader = `You are an expert adversarial contract critic for a civic prediction market with INSTITUTIONAL-GRADE market viability enforcement. Your job is to ensure ONLY genuinely marketable outcomes that would attract rational bettors are published.

CONTRACT TO ANALYZE:
Title: %s
Description: %s
Actor: %s
Timeline: %s
Resolution Criteria: %s
Source: %s

MARKET VIABILITY ASSESSMENT - PRODUCTION STANDARDS:

**PRIMARY FOCUS: Only block contracts that are clearly outside 30-70%% probability range or technically unresolvable.**

1. PROBABILITY BIAS CHECK (30-70%% VIABLE RANGE):
   - PASS: Any civic event with genuine uncertainty (30-70%% probability range)
   - BLOCK ONLY IF: >90%% certain (e.g., "Will the sun rise?") or <10%% likely (impossible events)
   - Memphis civic events (budget votes, elections, policy decisions) are typically VIABLE
   - Normal political uncertainty and debate = MARKETABLE, not problematic
   - Consider: Would reasonable people disagree about the likelihood?

2. MARKET VIABILITY TEST (RELAXED FOR CIVIC EVENTS):
   - PASS: Standard civic/political events with clear resolution criteria
   - Memphis council votes, elections, policy implementations = VIABLE by default
   - Public information availability is normal for civic events
   - BLOCK ONLY: Truly private/confidential decisions with no public information

3. CIVIC RELEVANCE CHECK:
   - PASS: Any genuine Memphis civic/political/community event
   - BLOCK ONLY: Obvious nonsense, purely hypothetical scenarios

4. RESOLUTION CLARITY:
   - PASS: Clear, objective resolution criteria with reliable sources
   - BLOCK ONLY: Subjective outcomes, unverifiable claims`

const criticPromptFramework = `

ANALYSIS FRAMEWORK:

**BLOCKING ISSUES (1.0 WEIGHT) - PREVENT PUBLICATION:**

1. PROBABILITY BIAS (BLOCKING):
   - Is this outcome >80%% likely or <20%% likely based on current facts?
   - Would rational bettors heavily favor one side?

2. MARKET VIABILITY (BLOCKING):
   - Would rational bettors take BOTH sides of this bet?
   - Is there genuine uncertainty attracting balanced action?

3. TRADING BALANCE (BLOCKING):
   - Would professional bookmakers list this market?
   - Is this a "dead" market with predetermined outcome?

4. BIASED FRAMING (BLOCKING):
   - Is the contract framed neutrally without political bias?
   - Are terms loaded or leading toward one outcome?

5. UNBETTABLE (BLOCKING):
   - Can this be fairly bet on with clear resolution?
   - Will resolution be unambiguous?

**QUALITY ISSUES (WEIGHTED BUT NOT BLOCKING):**

6. AMBIGUITY: Clear decision maker, action, timeline, resolution criteria
7. PSEUDO-OSTENSION: Genuine civic drama vs manufactured controversy
8. ARC FATIGUE: Story freshness and narrative value
9. UNCLEAR RESOLUTION: Resolution clarity and dispute potential

RESPONSE FORMAT (JSON):
{
  "issues": [
    {
      "issue_type": "probability_bias|market_viability|trading_balance|biased_framing|unbettable|ambiguity|pseudo_ostension|arc_fatigue|unclear_resolution",
      "severity": "low|medium|high|critical",
      "description": "Specific description of the issue",
      "suggested_fix": "How to fix this issue (optional)",
      "confidence": 0.0-1.0,
      "market_balance_impact": "high|medium|low",
      "blocking": true/false
    }
  ],
  "overall_assessment": "Brief overall assessment",
  "market_balance_assessment": "Assessment of 50/50 balance viability",
  "notes": "Additional critic notes"
}

Be EXTREMELY rigorous. Only genuinely uncertain, balanced, bettable contracts should pass.`

// blockingIssueTypes are the only types that block publication. The model's
// own "blocking" flag in the response is deliberately ignored: the set is a
// trust boundary, not a suggestion.
var blockingIssueTypes = map[model.IssueType]bool{
	model.IssueBiasedFraming:   true,
	model.IssueProbabilityBias: true,
	model.IssueMarketViability: true,
	model.IssueTradingBalance:  true,
	model.IssueUnbettable:      true,
}

var issueWeights = map[model.IssueType]float64{
	model.IssueBiasedFraming:     1.0,
	model.IssueProbabilityBias:   1.0,
	model.IssueMarketViability:   1.0,
	model.IssueTradingBalance:    1.0,
	model.IssueUnbettable:        1.0,
	model.IssueAmbiguity:         0.9,
	model.IssuePseudoOstension:   0.8,
	model.IssueArcFatigue:        0.6,
	model.IssueUnclearResolution: 0.9,
}

const defaultIssueWeight = 0.5

var severityImpacts = map[model.Severity]float64{
	model.SeverityLow:      0.2,
	model.SeverityMedium:   0.5,
	model.SeverityHigh:     0.8,
	model.SeverityCritical: 1.0,
}

// marketBalanceIssueTypes drive the dedicated balance score.
var marketBalanceIssueTypes = []model.IssueType{
	model.IssueProbabilityBias,
	model.IssueMarketViability,
	model.IssueTradingBalance,
	model.IssueBiasedFraming,
}

var balanceImpacts = map[model.BalanceImpact]float64{
	model.BalanceImpactHigh:   1.0,
	model.BalanceImpactMedium: 0.6,
	model.BalanceImpactLow:    0.3,
}

var criticTemperature = 0.0

// Critic enforces market balance on generated contracts. It runs the
// analysis prompt multiple times at temperature zero and flags divergent
// outputs for admin review.
type Critic struct {
	client           anthropic.Client
	model            string
	calc             *cost.Calculator
	limiter          *rate.Limiter
	cache            ResponseCache
	consistencyRuns  int
	balanceThreshold float64
}

// NewCritic builds a critic. cache may be nil to disable response caching;
// limiter may be nil to disable rate limiting. consistencyRuns < 1 means a
// single run; balanceThreshold <= 0 falls back to the default.
func NewCritic(client anthropic.Client, modelName string, calc *cost.Calculator, limiter *rate.Limiter, cache ResponseCache, consistencyRuns int, balanceThreshold float64) *Critic {
	if consistencyRuns < 1 {
		consistencyRuns = 1
	}
	if balanceThreshold <= 0 {
		balanceThreshold = DefaultBalanceThreshold
	}
	return &Critic{
		client:           client,
		model:            modelName,
		calc:             calc,
		limiter:          limiter,
		cache:            cache,
		consistencyRuns:  consistencyRuns,
		balanceThreshold: balanceThreshold,
	}
}

type criticIssueJSON struct {
	IssueType    string  `json:"issue_type"`
	Severity     string  `json:"severity"`
	Description  string  `json:"description"`
	SuggestedFix string  `json:"suggested_fix"`
	Confidence   float64 `json:"confidence"`
	Impact       string  `json:"market_balance_impact"`
	Blocking     bool    `json:"blocking"` // ignored; see blockingIssueTypes
}

type criticResponseJSON struct {
	Issues                  []criticIssueJSON `json:"issues"`
	OverallAssessment       string            `json:"overall_assessment"`
	MarketBalanceAssessment string            `json:"market_balance_assessment"`
	Notes                   string            `json:"notes"`
}

// Analyze runs the full critic pass on one contract. It never returns an
// error: any failure (API, parse, divergence beyond recovery) produces a
// conservative blocked analysis requiring admin override.
func (c *Critic) Analyze(ctx context.Context, contract model.Contract) model.CriticAnalysis {
	prompt := buildCriticPrompt(contract)

	var usage model.TokenUsage
	var costUSD float64
	divergent := false

	raw, fromCache, err := c.queryCritic(ctx, prompt, &usage, &costUSD, &divergent)
	if err != nil {
		zap.L().Error("critic query failed", zap.Error(err), zap.String("title", contract.Title))
		return conservativeAnalysis(err, usage, costUSD)
	}
	if fromCache {
		zap.L().Debug("critic cache hit", zap.String("title", contract.Title))
	}

	var parsed criticResponseJSON
	if perr := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); perr != nil {
		zap.L().Error("critic returned unparseable JSON",
			zap.Error(perr),
			zap.String("raw", truncate(raw, 200)),
		)
		return conservativeAnalysis(perr, usage, costUSD)
	}

	issues := make([]model.Issue, 0, len(parsed.Issues))
	for _, ij := range parsed.Issues {
		issues = append(issues, normalizeIssue(ij))
	}

	blocking := identifyBlockingIssues(issues)
	blocked := len(blocking) > 0
	balance := marketBalanceScore(issues)
	passed := balance >= c.balanceThreshold && !blocked

	analysis := model.CriticAnalysis{
		OverallScore:          overallScore(issues),
		Passed:                passed,
		Blocked:               blocked,
		Issues:                issues,
		BlockingIssues:        blocking,
		Notes:                 parsed.Notes,
		AnalyzedAt:            time.Now().UTC(),
		MarketBalanceScore:    balance,
		AdminOverrideRequired: blocked || hasCriticalIssues(issues),
		RubricVersion:         criticRubricVersion,
		ConsistencyDivergent:  divergent,
		Usage:                 usage,
		CostUSD:               costUSD,
	}

	if !passed || blocked {
		analysis.RewriteSuggestions = rewriteSuggestions(issues, blocking)
		analysis.RejectionReason = rejectionReason(issues, blocking)
	}

	zap.L().Info("critic verdict",
		zap.String("title", contract.Title),
		zap.Bool("passed", passed),
		zap.Bool("blocked", blocked),
		zap.Float64("market_balance_score", balance),
		zap.Float64("overall_score", analysis.OverallScore),
		zap.Bool("divergent", divergent),
	)

	return analysis
}

// queryCritic runs the prompt with consistency checking, accumulating token
// usage and cost across runs. The cache, when enabled, stores the agreed raw
// response keyed by model+prompt.
func (c *Critic) queryCritic(ctx context.Context, prompt string, usage *model.TokenUsage, costUSD *float64, divergent *bool) (string, bool, error) {
	key := responseCacheKey(c.model, prompt)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached, true, nil
		}
	}

	req := anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   2000,
		Temperature: &criticTemperature,
		System:      anthropic.BuildCachedSystemBlocks(criticSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	}

	policy := resilience.ConsistencyPolicy{Runs: c.consistencyRuns}
	result, err := policy.Run(ctx, func(ctx context.Context) (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		cfg := resilience.DefaultRetryConfig()
		cfg.OnRetry = resilience.RetryLogger("anthropic", "critic")
		resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return c.client.CreateMessage(ctx, req)
		})
		if err != nil {
			return "", err
		}
		usage.Add(model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		})
		*costUSD += c.calc.Claude(c.model, false,
			int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
			int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))
		return extractText(resp), nil
	})
	if err != nil {
		return "", false, err
	}

	*divergent = !result.Agreed

	// Only agreed responses are worth caching.
	if c.cache != nil && result.Agreed {
		c.cache.Put(key, result.Value)
	}
	return result.Value, false, nil
}

func buildCriticPrompt(contract model.Contract) string {
	header := fmt.Sprintf(criticPromptHeader,
		orNA(contract.Title),
		orNA(contract.Description),
		orNA(contract.Actor),
		orNA(contract.Timeline),
		orNA(contract.ResolutionCriteria),
		orNA(contract.Source),
	)
	return header + criticPromptFramework
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func normalizeIssue(ij criticIssueJSON) model.Issue {
	issueType := model.IssueType(strings.ToLower(strings.TrimSpace(ij.IssueType)))
	if _, known := issueWeights[issueType]; !known && issueType != model.IssueAnalysisError {
		issueType = model.IssueUnclassified
	}

	severity := model.Severity(strings.ToLower(strings.TrimSpace(ij.Severity)))
	if _, ok := severityImpacts[severity]; !ok {
		severity = model.SeverityMedium
	}

	impact := model.BalanceImpact(strings.ToLower(strings.TrimSpace(ij.Impact)))
	if _, ok := balanceImpacts[impact]; !ok {
		impact = model.BalanceImpactMedium
	}

	confidence := ij.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}

	return model.Issue{
		Type:          issueType,
		Severity:      severity,
		Description:   ij.Description,
		SuggestedFix:  ij.SuggestedFix,
		Confidence:    confidence,
		BalanceImpact: impact,
	}
}

func identifyBlockingIssues(issues []model.Issue) []model.Issue {
	var blocking []model.Issue
	for _, issue := range issues {
		if blockingIssueTypes[issue.Type] {
			blocking = append(blocking, issue)
		}
	}
	return blocking
}

// overallScore weights every issue by type, severity, and model confidence.
// It is recorded for analytics only and never blocks a contract on its own.
func overallScore(issues []model.Issue) float64 {
	if len(issues) == 0 {
		return 1.0
	}

	totalWeight := 0.0
	weightedImpact := 0.0
	for _, issue := range issues {
		weight, ok := issueWeights[issue.Type]
		if !ok {
			weight = defaultIssueWeight
		}
		sevImpact, ok := severityImpacts[issue.Severity]
		if !ok {
			sevImpact = severityImpacts[model.SeverityMedium]
		}
		totalWeight += weight
		weightedImpact += sevImpact * issue.Confidence * weight
	}
	if totalWeight == 0 {
		return 1.0
	}
	return max(0.0, 1.0-weightedImpact/totalWeight)
}

// marketBalanceScore measures 50/50 viability from the four balance issue
// types. Each detected type subtracts its impact share; a clean contract
// scores 1.0.
func marketBalanceScore(issues []model.Issue) float64 {
	totalImpact := 0.0
	for _, issueType := range marketBalanceIssueTypes {
		for _, issue := range issues {
			if issue.Type != issueType {
				continue
			}
			impact, ok := balanceImpacts[issue.BalanceImpact]
			if !ok {
				impact = balanceImpacts[model.BalanceImpactMedium]
			}
			totalImpact += impact
			break
		}
	}
	return max(0.0, 1.0-totalImpact/float64(len(marketBalanceIssueTypes)))
}

func hasCriticalIssues(issues []model.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == model.SeverityCritical {
			return true
		}
		if issue.Confidence >= criticConfidenceOverride {
			return true
		}
	}
	return false
}

func rejectionReason(issues []model.Issue, blocking []model.Issue) string {
	if len(blocking) > 0 {
		types := make([]string, len(blocking))
		for i, issue := range blocking {
			types[i] = string(issue.Type)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Contract BLOCKED due to market balance failures: %s. ", strings.Join(types, ", "))

		seen := map[model.IssueType]bool{}
		for _, issue := range blocking {
			seen[issue.Type] = true
		}
		if seen[model.IssueProbabilityBias] {
			b.WriteString("Outcome is overwhelmingly likely/unlikely (>80%/<20%). ")
		}
		if seen[model.IssueMarketViability] {
			b.WriteString("Rational bettors would not take both sides. ")
		}
		if seen[model.IssueTradingBalance] {
			b.WriteString("Real bookies would not list this market. ")
		}
		if seen[model.IssueBiasedFraming] {
			b.WriteString("Contract contains political bias or loaded language. ")
		}
		b.WriteString("Admin override required for publication.")
		return b.String()
	}

	var highTypes []string
	for _, issue := range issues {
		if issue.Severity == model.SeverityHigh || issue.Severity == model.SeverityCritical {
			highTypes = append(highTypes, string(issue.Type))
		}
	}
	if len(highTypes) > 0 {
		return fmt.Sprintf("Contract failed quality standards due to: %s", strings.Join(highTypes, ", "))
	}
	return "Contract failed to meet minimum quality thresholds"
}

// rewriteSuggestions proposes fixes for blocking issues first, then carries
// over any model-supplied fixes for quality issues. Capped at five.
func rewriteSuggestions(issues []model.Issue, blocking []model.Issue) []string {
	var suggestions []string

	for _, issue := range blocking {
		switch issue.Type {
		case model.IssueProbabilityBias:
			suggestions = append(suggestions,
				"Reframe to create genuine uncertainty - add timing constraints, margin requirements, or process obstacles",
				"Consider alternative outcomes that would balance the probability")
		case model.IssueMarketViability:
			suggestions = append(suggestions,
				"Restructure to create compelling cases for both YES and NO outcomes",
				"Add uncertainty elements that would attract rational bettors to both sides")
		case model.IssueTradingBalance:
			suggestions = append(suggestions,
				"Modify scope or timeline to create a more tradeable market",
				"Focus on specific, uncertain aspects rather than predetermined outcomes")
		case model.IssueBiasedFraming:
			suggestions = append(suggestions,
				"Remove loaded language and political bias from contract wording",
				"Reframe neutrally to avoid pushing particular agenda or outcome")
		}
	}

	blockingSet := map[model.IssueType]bool{}
	for _, issue := range blocking {
		blockingSet[issue.Type] = true
	}
	for _, issue := range issues {
		if !blockingSet[issue.Type] && issue.SuggestedFix != "" {
			suggestions = append(suggestions, issue.SuggestedFix)
		}
	}

	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

// conservativeAnalysis blocks the contract outright when the critic cannot
// produce a trustworthy verdict.
func conservativeAnalysis(cause error, usage model.TokenUsage, costUSD float64) model.CriticAnalysis {
	issue := model.Issue{
		Type:          model.IssueAnalysisError,
		Severity:      model.SeverityCritical,
		Description:   fmt.Sprintf("Critic analysis failed: %v", cause),
		Confidence:    1.0,
		BalanceImpact: model.BalanceImpactHigh,
	}
	return model.CriticAnalysis{
		OverallScore:          0,
		Passed:                false,
		Blocked:               true,
		Issues:                []model.Issue{issue},
		BlockingIssues:        []model.Issue{issue},
		RejectionReason:       "Technical analysis failure - contract blocked for safety",
		Notes:                 "Critic encountered an error during analysis",
		AnalyzedAt:            time.Now().UTC(),
		MarketBalanceScore:    0,
		AdminOverrideRequired: true,
		RubricVersion:         criticRubricVersion,
		Usage:                 usage,
		CostUSD:               costUSD,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
