package cluster

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords are excluded from topic signatures. The Memphis/Shelby terms are
// deliberate: nearly every local headline contains them, so they carry no
// clustering signal.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "with": true, "by": true, "from": true, "up": true,
	"about": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "above": true, "below": true,
	"between": true, "among": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"must": true, "shall": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "this": true, "that": true, "these": true, "those": true,
	"memphis": true, "shelby": true, "county": true,
}

// civicEntities is the fixed vocabulary used for entity signatures.
var civicEntities = map[string]bool{
	"council": true, "commission": true, "mayor": true, "school": true,
	"board": true, "mata": true, "mlgw": true, "police": true, "fire": true,
	"planning": true, "zoning": true, "housing": true, "budget": true,
	"vote": true, "election": true, "development": true,
	"transportation": true, "water": true, "sewer": true, "park": true,
}

// topicSignatureLimit caps how many tokens a topic signature keeps.
const topicSignatureLimit = 5

// entitySentinel marks headlines that mention no known civic entity.
const entitySentinel = "general_civic"

var foldTransform = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalize lowercases text, strips diacritics, and replaces punctuation
// with spaces so scraped headlines with curly quotes or accents produce
// the same signature as their plain-ASCII twins.
func normalize(text string) string {
	if folded, _, err := transform.String(foldTransform, text); err == nil {
		text = folded
	}
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// TopicSignature extracts the key topic words of a headline: stop words and
// short tokens dropped, remaining distinct tokens sorted, capped at five,
// joined with underscores.
func TopicSignature(headline string) string {
	words := strings.Fields(normalize(headline))

	seen := make(map[string]bool)
	var topicWords []string
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] && !seen[w] {
			seen[w] = true
			topicWords = append(topicWords, w)
		}
	}

	sort.Strings(topicWords)
	if len(topicWords) > topicSignatureLimit {
		topicWords = topicWords[:topicSignatureLimit]
	}
	return strings.Join(topicWords, "_")
}

// EntitySignature extracts the civic entities a headline mentions, merged
// with any classifier-supplied tags that belong to the fixed vocabulary.
// Returns the sentinel when nothing matches.
func EntitySignature(headline string, entityTags []string) string {
	text := strings.ToLower(headline)

	found := make(map[string]bool)
	for entity := range civicEntities {
		if strings.Contains(text, entity) {
			found[entity] = true
		}
	}
	for _, tag := range entityTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if civicEntities[tag] {
			found[tag] = true
		}
	}

	if len(found) == 0 {
		return entitySentinel
	}
	entities := make([]string, 0, len(found))
	for e := range found {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return strings.Join(entities, "_")
}

// Similarity scores two signature pairs on [0, 1] as a weighted average of
// token-set Jaccard overlap: topic 60%, entity 40%. Symmetric by construction.
func Similarity(topicSigA, entitySigA, topicSigB, entitySigB string) float64 {
	topic := jaccard(sigTokens(topicSigA), sigTokens(topicSigB))
	entity := jaccard(sigTokens(entitySigA), sigTokens(entitySigB))
	return topic*0.6 + entity*0.4
}

func sigTokens(sig string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Split(sig, "_") {
		if t != "" {
			tokens[t] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
