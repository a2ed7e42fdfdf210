package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memphis-civic/cascade-cli/internal/model"
)

// heuristicPassScore is the minimum score for a headline to clear the
// pre-screen: at least two of the three elements must be present.
const heuristicPassScore = 0.6

// civicAgents are Memphis-specific civic entities, checked as substrings.
// Ordered so multi-word agents win over their generic prefixes.
var civicAgents = []string{
	"memphis city council", "city council", "council",
	"councilman", "councilwoman",
	"memphis mayor", "mayor", "city hall", "city of memphis",
	"county commission", "commission", "shelby county", "commissioner",
	"memphis school board", "school board", "mscs", "superintendent",
	"mata", "mlgw", "memphis police", "mpd", "fire department",
	"planning commission", "zoning board", "housing authority",
	"tennessee", "state legislature", "governor",
}

// actionVerbs are civic decision-making verbs, matched on word boundaries.
var actionVerbs = []string{
	"vote", "votes", "voting", "approve", "approves", "approved",
	"reject", "rejects", "rejected", "pass", "passes", "passed",
	"propose", "proposes", "proposed", "plan", "plans", "planning",
	"consider", "considers", "review", "reviews", "decide", "decides",
	"implement", "implements", "launch", "launches", "delay", "delays",
	"postpone", "postpones", "cancel", "cancels", "fund", "funds",
	"budget", "budgets", "allocate", "allocates",
}

var actionVerbPatterns = compileVerbPatterns()

func compileVerbPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(actionVerbs))
	for i, verb := range actionVerbs {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(verb) + `\b`)
	}
	return patterns
}

var timeframePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
	regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b(next|this)\s+(week|month|year|quarter)\b`),
	regexp.MustCompile(`(?i)\b(by|before|after|until)\s+(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
	regexp.MustCompile(`(?i)\bfiscal\s+year\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday)\b`),
	regexp.MustCompile(`(?i)\bdeadline\b`),
}

// HeuristicFilter rejects obviously unfit headlines for free, before any
// LLM spend. A headline needs a civic agent (40% of score), an action verb
// (30%), and a timeframe (30%); two of three clears the bar. source is
// carried for logging only and never affects the verdict.
func HeuristicFilter(headline, source string) model.FilterVerdict {
	start := time.Now()

	if strings.TrimSpace(headline) == "" {
		return model.FilterVerdict{
			Passed:           false,
			Score:            0,
			DetectedElements: map[string]string{},
			MissingElements:  []string{"headline"},
			Reason:           "Empty or invalid headline",
		}
	}

	lower := strings.ToLower(headline)
	detected := map[string]string{}
	var missing []string
	score := 0.0

	agentFound := false
	for _, agent := range civicAgents {
		if strings.Contains(lower, agent) {
			detected["civic_agent"] = agent
			score += 0.4
			agentFound = true
			break
		}
	}
	if !agentFound {
		missing = append(missing, "civic_agent")
	}

	verbFound := false
	for i, pattern := range actionVerbPatterns {
		if pattern.MatchString(lower) {
			detected["action_verb"] = actionVerbs[i]
			score += 0.3
			verbFound = true
			break
		}
	}
	if !verbFound {
		missing = append(missing, "action_verb")
	}

	timeframeFound := false
	for _, pattern := range timeframePatterns {
		if match := pattern.FindString(headline); match != "" {
			detected["timeframe"] = match
			score += 0.3
			timeframeFound = true
			break
		}
	}
	if !timeframeFound {
		missing = append(missing, "timeframe")
	}

	passed := score >= heuristicPassScore

	var reason string
	if passed {
		reason = fmt.Sprintf("Civic headline detected: %s", strings.Join(detectedKeys(detected), ", "))
	} else {
		reason = fmt.Sprintf("Missing required elements: %s", strings.Join(missing, ", "))
	}

	zap.L().Debug("heuristic filter verdict",
		zap.Bool("passed", passed),
		zap.Float64("score", score),
		zap.String("headline", headline),
		zap.String("source", source),
	)

	return model.FilterVerdict{
		Passed:           passed,
		Score:            score,
		DetectedElements: detected,
		MissingElements:  missing,
		Reason:           reason,
		LatencyMS:        msSince(start),
	}
}

// detectedKeys lists detected element names in check order so reasons read
// the same run to run.
func detectedKeys(detected map[string]string) []string {
	var keys []string
	for _, k := range []string{"civic_agent", "action_verb", "timeframe"} {
		if _, ok := detected[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
