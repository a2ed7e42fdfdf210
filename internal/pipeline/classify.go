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

const classifySystemPrompt = `You are a civic prediction market classifier for Memphis, Tennessee.`

const classifyUserPrompt = `Analyze this headline and determine if it represents a locally bettable civic decision or controversy.

CRITERIA FOR "YES" (bettable civic event):
- Clear civic agent (council, commission, mayor, school board, etc.)
- Specific action or decision with uncertain outcome
- Definite timeframe or deadline
- Outcome can be objectively verified
- Local Memphis/Shelby County relevance
- Genuine uncertainty (not foregone conclusion)

CRITERIA FOR "NO" (not bettable):
- No clear civic agent or decision
- Purely informational/historical content
- Vague or hypothetical scenarios
- No clear resolution criteria
- Foregone conclusions or obvious outcomes

HEADLINE: "%s"

Respond with a valid JSON object:
{
    "decision": "YES" or "NO",
    "confidence": 0.0-1.0,
    "topic": "brief topic description",
    "entity_tags": ["list", "of", "relevant", "entities"],
    "reason": "brief explanation of decision"
}`

// classifyPassConfidence is the minimum confidence for a YES to count.
const classifyPassConfidence = 0.6

var classifyTemperature = 0.1

// Classifier is the cheap LLM relevance gate. It runs on Haiku with low
// temperature and short responses, so cost per headline stays in fractions
// of a cent.
type Classifier struct {
	client  anthropic.Client
	model   string
	calc    *cost.Calculator
	limiter *rate.Limiter
}

// NewClassifier builds a classifier over the given client. limiter may be
// nil to disable rate limiting (tests).
func NewClassifier(client anthropic.Client, modelName string, calc *cost.Calculator, limiter *rate.Limiter) *Classifier {
	return &Classifier{client: client, model: modelName, calc: calc, limiter: limiter}
}

type classifyResponse struct {
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	Topic      string   `json:"topic"`
	EntityTags []string `json:"entity_tags"`
	Reason     string   `json:"reason"`
}

// Classify runs the fast relevance check on one headline. Any failure
// (API error, malformed JSON) fails conservatively: the headline is
// rejected with zero cost charged and the raw error recorded in the reason.
func (c *Classifier) Classify(ctx context.Context, headline string) model.ClassifierVerdict {
	start := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyErrorVerdict(err, start)
		}
	}

	req := anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   256,
		Temperature: &classifyTemperature,
		System:      anthropic.BuildCachedSystemBlocks(classifySystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(classifyUserPrompt, headline)},
		},
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", "classify")
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		zap.L().Error("classifier call failed", zap.Error(err), zap.String("headline", headline))
		return classifyErrorVerdict(err, start)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &parsed); err != nil {
		zap.L().Error("classifier returned unparseable JSON", zap.Error(err))
		return classifyErrorVerdict(err, start)
	}

	decision := strings.ToUpper(strings.TrimSpace(parsed.Decision))
	passed := decision == "YES" && parsed.Confidence >= classifyPassConfidence

	usage := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	costUSD := c.calc.Claude(c.model, false,
		usage.InputTokens, usage.OutputTokens, usage.CacheCreationTokens, usage.CacheReadTokens)

	topic := parsed.Topic
	if topic == "" {
		topic = "Unknown"
	}
	reason := parsed.Reason
	if reason == "" {
		reason = "No reason provided"
	}

	status := "FAIL"
	if passed {
		status = "PASS"
	}
	zap.L().Info("classifier verdict",
		zap.String("status", status),
		zap.String("headline", headline),
		zap.Float64("confidence", parsed.Confidence),
		zap.Float64("cost_usd", costUSD),
	)

	return model.ClassifierVerdict{
		Passed:     passed,
		Confidence: parsed.Confidence,
		Topic:      topic,
		EntityTags: parsed.EntityTags,
		Reason:     reason,
		LatencyMS:  msSince(start),
		Usage:      usage,
		CostUSD:    costUSD,
	}
}

func classifyErrorVerdict(err error, start time.Time) model.ClassifierVerdict {
	return model.ClassifierVerdict{
		Passed:     false,
		Confidence: 0,
		Topic:      "Error",
		EntityTags: []string{},
		Reason:     fmt.Sprintf("Classification error: %v", err),
		LatencyMS:  msSince(start),
	}
}
