package model

import "time"

// Contract is a candidate prediction-market contract derived from a headline.
type Contract struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Actor              string   `json:"actor"`
	Timeline           string   `json:"timeline"`
	ResolutionCriteria string   `json:"resolution_criteria"`
	Source             string   `json:"source"`
	Topic              string   `json:"topic,omitempty"`
	EntityTags         []string `json:"entity_tags,omitempty"`
	VariantStrategy    string   `json:"variant_strategy,omitempty"`
	OriginalTitle      string   `json:"original_title,omitempty"`
}

// Severity grades how serious an issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IssueType identifies a category of contract defect.
type IssueType string

const (
	// Blocking: publication requires admin override.
	IssueBiasedFraming   IssueType = "biased_framing"
	IssueProbabilityBias IssueType = "probability_bias"
	IssueMarketViability IssueType = "market_viability"
	IssueTradingBalance  IssueType = "trading_balance"
	IssueUnbettable      IssueType = "unbettable"

	// Quality: weighted into the overall score but never block.
	IssueAmbiguity         IssueType = "ambiguity"
	IssuePseudoOstension   IssueType = "pseudo_ostension"
	IssueArcFatigue        IssueType = "arc_fatigue"
	IssueUnclearResolution IssueType = "unclear_resolution"

	// Internal.
	IssueAnalysisError IssueType = "analysis_error"
	IssueUnclassified  IssueType = "unclassified"
)

// BalanceImpact grades how much an issue distorts the YES/NO balance.
type BalanceImpact string

const (
	BalanceImpactHigh   BalanceImpact = "high"
	BalanceImpactMedium BalanceImpact = "medium"
	BalanceImpactLow    BalanceImpact = "low"
)

// Issue is a single defect the critic found in a contract.
type Issue struct {
	Type          IssueType     `json:"issue_type"`
	Severity      Severity      `json:"severity"`
	Description   string        `json:"description"`
	SuggestedFix  string        `json:"suggested_fix,omitempty"`
	Confidence    float64       `json:"confidence"`
	BalanceImpact BalanceImpact `json:"market_balance_impact"`
}

// CriticAnalysis is the critic enforcer's verdict on one contract.
type CriticAnalysis struct {
	OverallScore          float64    `json:"overall_score"`
	Passed                bool       `json:"passed"`
	Blocked               bool       `json:"blocked"`
	Issues                []Issue    `json:"issues_found"`
	BlockingIssues        []Issue    `json:"blocking_issues"`
	RewriteSuggestions    []string   `json:"rewrite_suggestions,omitempty"`
	RejectionReason       string     `json:"rejection_reason,omitempty"`
	Notes                 string     `json:"critic_notes,omitempty"`
	AnalyzedAt            time.Time  `json:"analysis_timestamp"`
	MarketBalanceScore    float64    `json:"market_balance_score"`
	AdminOverrideRequired bool       `json:"admin_override_required"`
	RubricVersion         string     `json:"rubric_version"`
	ConsistencyDivergent  bool       `json:"consistency_divergent,omitempty"`
	Usage                 TokenUsage `json:"usage"`
	CostUSD               float64    `json:"cost_usd"`
}

// Recommendation is the variant layer's disposition for a contract set.
type Recommendation string

const (
	RecommendPublishBest Recommendation = "publish_best"
	RecommendAdminRescue Recommendation = "admin_rescue"
	RecommendRejectAll   Recommendation = "reject_all"
)

// AnalyzedVariant pairs a contract variant with its critic analysis.
type AnalyzedVariant struct {
	Kind     string         `json:"variant_type"` // "original" or "variant_N"
	Strategy string         `json:"reframing_strategy,omitempty"`
	Contract Contract       `json:"contract"`
	Analysis CriticAnalysis `json:"analysis"`
}

// VariantOutcome summarizes variant generation plus critic enforcement
// for a single base contract.
type VariantOutcome struct {
	Original       AnalyzedVariant   `json:"original_contract"`
	Variants       []AnalyzedVariant `json:"variants_analyzed"`
	Total          int               `json:"total_variants"`
	Passed         int               `json:"variants_passed"`
	Blocked        int               `json:"variants_blocked"`
	Best           *Contract         `json:"best_variant,omitempty"`
	Recommendation Recommendation    `json:"recommendation"`
	GeneratedAt    time.Time         `json:"generation_timestamp"`
	Usage          TokenUsage        `json:"usage"`
	CostUSD        float64           `json:"cost_usd"`
}
