package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchResult_JSONRoundTrip(t *testing.T) {
	orig := BatchResult{
		BatchID:             "6e08bc26-1df2-4f2b-9a93-0d5d9a3a51c0",
		Timestamp:           time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC),
		TotalSubmissions:    4,
		Published:           2,
		Blocked:             1,
		AdminRescue:         1,
		PipelineReliability: 1.0,
		EnforcementRate:     0.25,
		TotalCostUSD:        0.0142,
		Outcomes: []ContractOutcome{
			{
				Headline:           "Memphis City Council will vote on the budget by October 1",
				Status:             OutcomePublished,
				PipelineStatus:     StatusPass,
				ContractsGenerated: 3,
				CostUSD:            0.0097,
				ProcessedAt:        time.Date(2026, 8, 14, 12, 0, 1, 0, time.UTC),
			},
			{
				Headline:           "MATA board considers fare increase next month",
				Status:             OutcomeBlocked,
				PipelineStatus:     StatusBlockLayer3,
				BlockingIssueTypes: []IssueType{IssueProbabilityBias},
				CostUSD:            0.0045,
				ProcessedAt:        time.Date(2026, 8, 14, 12, 0, 2, 0, time.UTC),
			},
		},
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var got BatchResult
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, orig.BatchID, got.BatchID)
	assert.Equal(t, orig.Published, got.Published)
	assert.Equal(t, orig.EnforcementRate, got.EnforcementRate)
	assert.Equal(t, orig.TotalCostUSD, got.TotalCostUSD)
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, StatusBlockLayer3, got.Outcomes[1].PipelineStatus)
	assert.Equal(t, []IssueType{IssueProbabilityBias}, got.Outcomes[1].BlockingIssueTypes)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 20}
	u.Add(TokenUsage{InputTokens: 50, OutputTokens: 10, CacheReadTokens: 5})
	assert.Equal(t, TokenUsage{InputTokens: 150, OutputTokens: 30, CacheReadTokens: 5}, u)
}
