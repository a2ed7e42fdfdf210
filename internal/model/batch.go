package model

import "time"

// OutcomeStatus classifies what happened to one submission within a batch.
type OutcomeStatus string

const (
	OutcomePublished   OutcomeStatus = "published"
	OutcomeBlocked     OutcomeStatus = "blocked"
	OutcomeAdminRescue OutcomeStatus = "admin_rescue"
	OutcomeFailed      OutcomeStatus = "failed"
)

// ContractOutcome records the per-submission result inside a BatchResult.
type ContractOutcome struct {
	Headline           string         `json:"headline"`
	Source             string         `json:"source"`
	Status             OutcomeStatus  `json:"status"`
	PipelineStatus     PipelineStatus `json:"pipeline_status"`
	BlockingIssueTypes []IssueType    `json:"blocking_issue_types,omitempty"`
	ContractsGenerated int            `json:"contracts_generated"`
	CostUSD            float64        `json:"cost_usd"`
	ProcessedAt        time.Time      `json:"processed_at"`
}

// BatchResult is the aggregate outcome of one batch run. Reliability counts
// every submission that reached a deliberate disposition (published, blocked,
// or queued for rescue); only unexpected failures count against it.
type BatchResult struct {
	BatchID             string            `json:"batch_id"`
	Timestamp           time.Time         `json:"timestamp"`
	TotalSubmissions    int               `json:"total_submissions"`
	Published           int               `json:"published_contracts"`
	Blocked             int               `json:"blocked_contracts"`
	AdminRescue         int               `json:"admin_rescue_contracts"`
	Failed              int               `json:"failed_contracts"`
	PipelineReliability float64           `json:"pipeline_reliability"`
	EnforcementRate     float64           `json:"enforcement_rate"`
	TotalCostUSD        float64           `json:"total_cost_usd"`
	ProcessingTimeMS    float64           `json:"processing_time_ms"`
	Outcomes            []ContractOutcome `json:"contract_outcomes"`
}

// RescueEntry is a queued item awaiting admin review.
type RescueEntry struct {
	ID         string     `json:"id"`
	BatchID    string     `json:"batch_id"`
	Headline   string     `json:"headline"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"` // pending, resolved
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RescueStatusPending and RescueStatusResolved are the rescue queue states.
const (
	RescueStatusPending  = "pending"
	RescueStatusResolved = "resolved"
)
