package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/memphis-civic/cascade-cli/internal/cost"
	"github.com/memphis-civic/cascade-cli/internal/model"
	"github.com/memphis-civic/cascade-cli/pkg/anthropic"
)

// isReframeRequest matches variant-generation calls; isCriticRequestFor
// matches critic calls for a contract whose prompt mentions the substring.
func isReframeRequest(req anthropic.MessageRequest) bool {
	return len(req.System) > 0 && strings.Contains(req.System[0].Text, "reframing specialist")
}

func isCriticRequest(req anthropic.MessageRequest) bool {
	return len(req.System) > 0 && strings.Contains(req.System[0].Text, "contract critic")
}

func criticRequestFor(substr string) func(anthropic.MessageRequest) bool {
	return func(req anthropic.MessageRequest) bool {
		return isCriticRequest(req) && len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, substr)
	}
}

const cleanCriticResponse = `{"issues": [], "notes": "viable"}`

const blockedCriticResponse = `{
	"issues": [
		{"issue_type": "probability_bias", "severity": "high", "description": "near-certain", "confidence": 0.9, "market_balance_impact": "high"}
	],
	"notes": ""
}`

func newTestGenerator(client *mockAnthropicClient) *Generator {
	calc := cost.NewCalculator(cost.DefaultRates())
	critic := NewCritic(client, sonnetTestModel, calc, nil, nil, 1, DefaultBalanceThreshold)
	return NewGenerator(client, sonnetTestModel, calc, nil, critic, DefaultVariantTarget, DefaultVariantMinimum)
}

func TestGenerator_AllVariantsPass(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(textResponse(`{
			"title": "Will the council approve the plan by 2 votes or less?",
			"description": "Focuses on the approval margin.",
			"timeline": "By June 30, 2027"
		}`, 800, 200), nil).Times(5)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(cleanCriticResponse, 1500, 100), nil).Times(6)

	outcome := newTestGenerator(client).GenerateAndAnalyze(context.Background(), testContract())

	assert.Equal(t, 6, outcome.Total)
	assert.Equal(t, 6, outcome.Passed)
	assert.Zero(t, outcome.Blocked)
	assert.Equal(t, model.RecommendPublishBest, outcome.Recommendation)
	// All candidates score 1.0; the original was considered first and keeps
	// the tie.
	require.NotNil(t, outcome.Best)
	assert.Equal(t, testContract().Title, outcome.Best.Title)
	assert.Len(t, outcome.Variants, 5)
	assert.Equal(t, "variant_1", outcome.Variants[0].Kind)
	assert.Equal(t, "margin_focus", outcome.Variants[0].Strategy)
	assert.Equal(t, testContract().Title, outcome.Variants[0].Contract.OriginalTitle)
	client.AssertExpectations(t)
}

func TestGenerator_FallbacksWhenGenerationFails(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(nil, errors.New("model overloaded"))
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(cleanCriticResponse, 1500, 100), nil)

	contract := model.Contract{
		Title:       "Will the council approve the arena funding plan?",
		Description: "Arena funding decision.",
		Actor:       "Memphis City Council",
	}
	outcome := newTestGenerator(client).GenerateAndAnalyze(context.Background(), contract)

	// Original plus three textual fallbacks.
	assert.Equal(t, 4, outcome.Total)
	require.Len(t, outcome.Variants, 3)
	assert.Equal(t, "timing_constraint_fallback", outcome.Variants[0].Strategy)
	assert.Equal(t, "Will the council approve the arena funding plan by the end of the quarter?", outcome.Variants[0].Contract.Title)
	assert.Equal(t, "margin_focus_fallback", outcome.Variants[1].Strategy)
	assert.Equal(t, "Will the council approve by a narrow margin the arena funding plan?", outcome.Variants[1].Contract.Title)
	assert.Equal(t, "opposition_focus_fallback", outcome.Variants[2].Strategy)
	assert.Equal(t, "Will the council approve the arena funding plan despite organized opposition?", outcome.Variants[2].Contract.Title)
	assert.Equal(t, model.RecommendPublishBest, outcome.Recommendation)
}

func TestFallbackVariants_MarginMatchIgnoresCase(t *testing.T) {
	contract := model.Contract{
		Title:       "Council to Approve new arena funding?",
		Description: "Arena funding decision.",
	}
	variants := fallbackVariants(contract, 3)

	require.Len(t, variants, 3)
	assert.Equal(t, "margin_focus_fallback", variants[1].strategy)
	// The capitalized verb still gets the margin clause, case preserved.
	assert.Equal(t, "Council to Approve by a narrow margin new arena funding?", variants[1].contract.Title)
}

func TestGenerator_RejectAllWhenEverythingBlocked(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(nil, errors.New("model overloaded"))
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(blockedCriticResponse, 1500, 150), nil)

	contract := model.Contract{
		Title:       "Will the sun rise over Memphis tomorrow?",
		Description: "Certain outcome.",
	}
	outcome := newTestGenerator(client).GenerateAndAnalyze(context.Background(), contract)

	assert.Equal(t, outcome.Total, outcome.Blocked)
	assert.Zero(t, outcome.Passed)
	assert.Equal(t, model.RecommendRejectAll, outcome.Recommendation)
	assert.Nil(t, outcome.Best)
}

func TestGenerator_BestIsHighestBalancePassingVariant(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(textResponse(`{
			"title": "Reframed margin variant title",
			"description": "Margin variant"
		}`, 800, 200), nil).Once()
	// Remaining strategies produce unusable output and are skipped.
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(textResponse("not json", 800, 50), nil).Times(4)

	// Original blocked, variant passes.
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(criticRequestFor(testContract().Title))).
		Return(textResponse(blockedCriticResponse, 1500, 150), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(criticRequestFor("Reframed margin variant title"))).
		Return(textResponse(cleanCriticResponse, 1500, 100), nil)

	calc := cost.NewCalculator(cost.DefaultRates())
	critic := NewCritic(client, sonnetTestModel, calc, nil, nil, 1, DefaultBalanceThreshold)
	// minimum of 1 keeps textual fallbacks out of the way here.
	gen := NewGenerator(client, sonnetTestModel, calc, nil, critic, DefaultVariantTarget, 1)
	outcome := gen.GenerateAndAnalyze(context.Background(), testContract())

	assert.Equal(t, 2, outcome.Total)
	assert.Equal(t, 1, outcome.Passed)
	assert.Equal(t, 1, outcome.Blocked)
	require.NotNil(t, outcome.Best)
	assert.Equal(t, "Reframed margin variant title", outcome.Best.Title)
	assert.Equal(t, model.RecommendPublishBest, outcome.Recommendation)
}

func TestGenerator_SkipsVariantMissingRequiredFields(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(textResponse(`{"title": "Only a title"}`, 800, 50), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(cleanCriticResponse, 1500, 100), nil)

	outcome := newTestGenerator(client).GenerateAndAnalyze(context.Background(), testContract())

	// All structural attempts unusable: fallbacks take over.
	for _, v := range outcome.Variants {
		assert.Contains(t, v.Strategy, "fallback")
	}
}
