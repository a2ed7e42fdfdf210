package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/memphis-civic/cascade-cli/internal/cluster"
	"github.com/memphis-civic/cascade-cli/internal/cost"
	"github.com/memphis-civic/cascade-cli/internal/model"
	"github.com/memphis-civic/cascade-cli/pkg/anthropic"
)

func isClassifierRequest(req anthropic.MessageRequest) bool {
	return len(req.System) > 0 && strings.Contains(req.System[0].Text, "civic prediction market classifier")
}

const passingClassifierResponse = `{
	"decision": "YES",
	"confidence": 0.85,
	"topic": "City budget",
	"entity_tags": ["council", "budget"],
	"reason": "Clear civic decision"
}`

func newTestController(client *mockAnthropicClient) *Controller {
	calc := cost.NewCalculator(cost.DefaultRates())
	classifier := NewClassifier(client, haikuTestModel, calc, nil)
	critic := NewCritic(client, sonnetTestModel, calc, nil, nil, 1, DefaultBalanceThreshold)
	generator := NewGenerator(client, sonnetTestModel, calc, nil, critic, DefaultVariantTarget, DefaultVariantMinimum)
	engine := cluster.NewEngine(cluster.NewMemoryStore(), 0.7)

	ctrl := NewController(classifier, engine, generator, &Totals{})
	ctrl.now = func() time.Time {
		return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	}
	return ctrl
}

func feedSubmission(headline string) model.Submission {
	return model.Submission{Headline: headline, Source: "test-feed", Type: model.SubmissionFeed}
}

func TestProcess_SportsHeadlineBlockedFreeAtLayer0(t *testing.T) {
	client := new(mockAnthropicClient)
	ctrl := newTestController(client)

	result := ctrl.Process(context.Background(), feedSubmission("Grizzlies win big at home"))

	assert.Equal(t, model.StatusBlockLayer0, result.FinalStatus)
	assert.Zero(t, result.TotalCostUSD)
	assert.Nil(t, result.ClassifierVerdict)
	assert.Nil(t, result.ClusterVerdict)
	assert.Contains(t, result.UserFeedback, "Missing required elements")
	assert.Contains(t, result.UserFeedback, "Memphis City Council")
	assert.False(t, result.NarrativeSignals.NarrativePotential)
	assert.Equal(t, "unknown", result.NarrativeSignals.Topic)
	// No model was ever consulted.
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	assert.Equal(t, int64(1), ctrl.Totals().Layers.Layer0Fail.Load())
	assert.Equal(t, int64(1), ctrl.Totals().HeadlinesProcessed.Load())
}

func TestProcess_ClassifierNoBlocksAtLayer1(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isClassifierRequest)).
		Return(textResponse(`{
			"decision": "NO",
			"confidence": 0.9,
			"topic": "State politics",
			"entity_tags": [],
			"reason": "Not locally bettable"
		}`, 500, 80), nil)
	ctrl := newTestController(client)

	result := ctrl.Process(context.Background(), feedSubmission("Tennessee governor plans trade mission this month"))

	assert.Equal(t, model.StatusBlockLayer1, result.FinalStatus)
	require.NotNil(t, result.ClassifierVerdict)
	assert.Greater(t, result.TotalCostUSD, 0.0)
	assert.Contains(t, result.UserFeedback, "Not suitable for prediction market")
	// Layer 1 blocks still feed the narrative engine.
	assert.True(t, result.NarrativeSignals.NarrativePotential)
	assert.Equal(t, int64(1), ctrl.Totals().Layers.Layer1Fail.Load())
}

func TestProcess_ClassifierErrorBlocksWithZeroCost(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isClassifierRequest)).
		Return(nil, errors.New("api unavailable"))
	ctrl := newTestController(client)

	result := ctrl.Process(context.Background(), feedSubmission("Council votes on budget Tuesday"))

	assert.Equal(t, model.StatusBlockLayer1, result.FinalStatus)
	assert.Zero(t, result.TotalCostUSD)
	assert.Contains(t, result.UserFeedback, "api unavailable")
	// Low confidence adds the specificity hint.
	assert.Contains(t, result.UserFeedback, "more specific")
}

func TestProcess_FullPassGeneratesContracts(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isClassifierRequest)).
		Return(textResponse(passingClassifierResponse, 500, 100), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(textResponse(`{
			"title": "Will the council approve the budget by 2 votes or less?",
			"description": "Margin-focused variant."
		}`, 800, 200), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(cleanCriticResponse, 1500, 100), nil)
	ctrl := newTestController(client)

	result := ctrl.Process(context.Background(), feedSubmission("Memphis City Council votes on budget Tuesday"))

	assert.Equal(t, model.StatusPass, result.FinalStatus)
	require.NotNil(t, result.VariantOutcome)
	// Original plus five structural variants, all passing.
	assert.Len(t, result.ContractsGenerated, 6)
	assert.Equal(t, "Generated 6 viable contract(s)", result.UserFeedback)
	assert.False(t, result.AdminReviewRequired)
	assert.Greater(t, result.TotalCostUSD, 0.0)
	require.NotNil(t, result.ClusterVerdict)
	assert.True(t, result.ClusterVerdict.IsPrimary)
	assert.True(t, result.NarrativeSignals.NarrativePotential)
	assert.Equal(t, "City budget", result.NarrativeSignals.Topic)
	assert.Equal(t, int64(6), ctrl.Totals().ContractsGenerated.Load())
	assert.Equal(t, int64(1), ctrl.Totals().Layers.Layer3Pass.Load())
	assert.InDelta(t, result.TotalCostUSD, ctrl.Totals().CostUSD(), 1e-6)
}

func TestProcess_DuplicateHeadlineBlockedByCluster(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isClassifierRequest)).
		Return(textResponse(passingClassifierResponse, 500, 100), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(textResponse(`{"title": "Variant title", "description": "Variant description"}`, 800, 200), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(cleanCriticResponse, 1500, 100), nil)
	ctrl := newTestController(client)

	first := ctrl.Process(context.Background(), feedSubmission("Memphis City Council votes on budget Tuesday"))
	second := ctrl.Process(context.Background(), feedSubmission("City Council budget vote set for Tuesday"))

	assert.Equal(t, model.StatusPass, first.FinalStatus)
	assert.Equal(t, model.StatusBlockCluster, second.FinalStatus)
	require.NotNil(t, second.ClusterVerdict)
	assert.False(t, second.ClusterVerdict.IsPrimary)
	assert.Equal(t, first.ClusterVerdict.ClusterID, second.ClusterVerdict.ClusterID)
	assert.Contains(t, second.UserFeedback, "Similar contract already processed today")
	assert.True(t, second.NarrativeSignals.NarrativePotential)
	// Duplicate still paid for its classifier call, nothing more.
	assert.Equal(t, second.ClassifierVerdict.CostUSD, second.TotalCostUSD)
	assert.Equal(t, int64(1), ctrl.Totals().Layers.Layer2Duplicate.Load())
}

func TestProcess_AllVariantsBlockedRequiresAdminReview(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isClassifierRequest)).
		Return(textResponse(passingClassifierResponse, 500, 100), nil)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isReframeRequest)).
		Return(nil, errors.New("model overloaded"))
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(isCriticRequest)).
		Return(textResponse(blockedCriticResponse, 1500, 150), nil)
	ctrl := newTestController(client)

	result := ctrl.Process(context.Background(), feedSubmission("Memphis City Council votes on budget Tuesday"))

	assert.Equal(t, model.StatusBlockLayer3, result.FinalStatus)
	assert.Empty(t, result.ContractsGenerated)
	assert.True(t, result.AdminReviewRequired)
	assert.Equal(t, "Contract failed market viability checks. Try rephrasing for more balanced outcomes.", result.UserFeedback)
	require.NotNil(t, result.VariantOutcome)
	assert.Equal(t, model.RecommendRejectAll, result.VariantOutcome.Recommendation)
	assert.Equal(t, int64(1), ctrl.Totals().Layers.Layer3Fail.Load())
}
