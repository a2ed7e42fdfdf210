package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/memphis-civic/cascade-cli/internal/cost"
)

const haikuTestModel = "claude-haiku-4-5-20251001"

func newTestClassifier(client *mockAnthropicClient) *Classifier {
	return NewClassifier(client, haikuTestModel, cost.NewCalculator(cost.DefaultRates()), nil)
}

func TestClassify_YesHighConfidencePasses(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{
		"decision": "YES",
		"confidence": 0.85,
		"topic": "City budget vote",
		"entity_tags": ["council", "budget"],
		"reason": "Clear civic decision with deadline"
	}`, 500, 100), nil)

	v := newTestClassifier(client).Classify(context.Background(), "Council votes on budget Tuesday")

	assert.True(t, v.Passed)
	assert.Equal(t, 0.85, v.Confidence)
	assert.Equal(t, "City budget vote", v.Topic)
	assert.Equal(t, []string{"council", "budget"}, v.EntityTags)
	assert.Greater(t, v.CostUSD, 0.0)
	assert.Equal(t, 500, v.Usage.InputTokens)
	client.AssertExpectations(t)
}

func TestClassify_YesLowConfidenceFails(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{
		"decision": "YES",
		"confidence": 0.5,
		"topic": "Vague proposal",
		"entity_tags": [],
		"reason": "Uncertain relevance"
	}`, 500, 80), nil)

	v := newTestClassifier(client).Classify(context.Background(), "City considers unspecified changes")

	assert.False(t, v.Passed)
	assert.Equal(t, 0.5, v.Confidence)
	// Cost is still charged: the call happened.
	assert.Greater(t, v.CostUSD, 0.0)
}

func TestClassify_NoFails(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{
		"decision": "NO",
		"confidence": 0.95,
		"topic": "Sports",
		"entity_tags": [],
		"reason": "Not a civic decision"
	}`, 500, 80), nil)

	v := newTestClassifier(client).Classify(context.Background(), "Grizzlies win at home")

	assert.False(t, v.Passed)
	assert.Equal(t, "Sports", v.Topic)
}

func TestClassify_MarkdownFencedJSON(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("```json\n"+`{
		"decision": "YES",
		"confidence": 0.9,
		"topic": "Transit",
		"entity_tags": ["mata"],
		"reason": "Fare decision"
	}`+"\n```", 400, 90), nil)

	v := newTestClassifier(client).Classify(context.Background(), "MATA board votes on fare change Friday")

	assert.True(t, v.Passed)
	assert.Equal(t, "Transit", v.Topic)
}

func TestClassify_APIErrorFailsConservatively(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("api unavailable"))

	v := newTestClassifier(client).Classify(context.Background(), "Council votes on budget Tuesday")

	assert.False(t, v.Passed)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, "Error", v.Topic)
	assert.Contains(t, v.Reason, "api unavailable")
	assert.Zero(t, v.CostUSD)
}

func TestClassify_MalformedJSONFailsConservatively(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I think this is civic but cannot say for sure", 400, 50), nil)

	v := newTestClassifier(client).Classify(context.Background(), "Council votes on budget Tuesday")

	assert.False(t, v.Passed)
	assert.Equal(t, "Error", v.Topic)
	assert.Zero(t, v.CostUSD)
}

func TestClassify_DefaultsForMissingFields(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"decision": "NO", "confidence": 0.8}`, 400, 30), nil)

	v := newTestClassifier(client).Classify(context.Background(), "Some headline")

	assert.Equal(t, "Unknown", v.Topic)
	assert.Equal(t, "No reason provided", v.Reason)
}
