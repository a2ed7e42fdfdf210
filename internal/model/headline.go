package model

import "time"

// SubmissionType identifies how a headline entered the pipeline.
type SubmissionType string

const (
	SubmissionFeed  SubmissionType = "feed"
	SubmissionUser  SubmissionType = "user_submission"
	SubmissionAdmin SubmissionType = "admin_override"
)

// Submission is a single headline handed to the cascade.
type Submission struct {
	Headline string            `json:"headline"`
	Source   string            `json:"source"`
	UserID   string            `json:"user_id,omitempty"`
	Type     SubmissionType    `json:"submission_type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PipelineStatus is the terminal status of a cascade run.
type PipelineStatus string

const (
	StatusPass         PipelineStatus = "PASS"
	StatusBlockLayer0  PipelineStatus = "BLOCK_LAYER_0"
	StatusBlockLayer1  PipelineStatus = "BLOCK_LAYER_1"
	StatusBlockCluster PipelineStatus = "BLOCK_CLUSTER"
	StatusBlockLayer3  PipelineStatus = "BLOCK_LAYER_3"
)

// TokenUsage accumulates token consumption across cascade layers.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// FilterVerdict is the outcome of the heuristic filter layer. It is
// deterministic and free: no tokens are consumed producing it.
type FilterVerdict struct {
	Passed           bool              `json:"passed"`
	Score            float64           `json:"score"`
	DetectedElements map[string]string `json:"detected_elements"`
	MissingElements  []string          `json:"missing_elements"`
	Reason           string            `json:"reason"`
	LatencyMS        float64           `json:"latency_ms"`
}

// ClassifierVerdict is the outcome of the fast classifier layer.
type ClassifierVerdict struct {
	Passed     bool       `json:"passed"`
	Confidence float64    `json:"confidence"`
	Topic      string     `json:"topic"`
	EntityTags []string   `json:"entity_tags"`
	Reason     string     `json:"reason"`
	LatencyMS  float64    `json:"latency_ms"`
	Usage      TokenUsage `json:"usage"`
	CostUSD    float64    `json:"cost_usd"`
}

// ClusterVerdict is the outcome of the dedup layer. IsPrimary reports
// whether this headline should drive contract generation today.
type ClusterVerdict struct {
	ClusterID    string  `json:"cluster_id"`
	IsPrimary    bool    `json:"is_primary"`
	SimilarCount int     `json:"similar_count"`
	Reason       string  `json:"reason"`
	LatencyMS    float64 `json:"latency_ms"`
}

// NarrativeSignals carries headline metadata for downstream narrative
// consumers, emitted on every terminal branch of the cascade.
type NarrativeSignals struct {
	Headline           string    `json:"headline"`
	Source             string    `json:"source"`
	Timestamp          time.Time `json:"timestamp"`
	Status             string    `json:"status"`
	Topic              string    `json:"topic"`
	Entities           []string  `json:"entities"`
	NarrativePotential bool      `json:"narrative_potential"`
}

// PipelineResult is the complete outcome of one cascade run. It is always
// produced: layer failures surface as terminal statuses, never as errors.
type PipelineResult struct {
	Headline            string             `json:"headline"`
	Source              string             `json:"source"`
	FinalStatus         PipelineStatus     `json:"final_status"`
	ContractsGenerated  []Contract         `json:"contracts_generated"`
	FilterVerdict       FilterVerdict      `json:"filter_verdict"`
	ClassifierVerdict   *ClassifierVerdict `json:"classifier_verdict,omitempty"`
	ClusterVerdict      *ClusterVerdict    `json:"cluster_verdict,omitempty"`
	VariantOutcome      *VariantOutcome    `json:"variant_outcome,omitempty"`
	TotalCostUSD        float64            `json:"total_cost_usd"`
	TotalLatencyMS      float64            `json:"total_latency_ms"`
	NarrativeSignals    NarrativeSignals   `json:"narrative_signals"`
	AdminReviewRequired bool               `json:"admin_review_required"`
	UserFeedback        string             `json:"user_feedback"`
}
