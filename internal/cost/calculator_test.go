package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude_DirectCall(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	// 1M input + 1M output on haiku: 0.80 + 4.00
	got := calc.Claude("claude-haiku-4-5-20251001", false, 1_000_000, 1_000_000, 0, 0)
	assert.InDelta(t, 4.80, got, 0.0001)
}

func TestClaude_BatchDiscount(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	direct := calc.Claude("claude-sonnet-4-5-20250929", false, 500_000, 100_000, 0, 0)
	batch := calc.Claude("claude-sonnet-4-5-20250929", true, 500_000, 100_000, 0, 0)
	assert.InDelta(t, direct*0.5, batch, 0.0001)
}

func TestClaude_CacheMultipliers(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	// cache write at 1.25x input, cache read at 0.1x input
	got := calc.Claude("claude-haiku-4-5-20251001", false, 0, 0, 1_000_000, 1_000_000)
	assert.InDelta(t, 0.80*1.25+0.80*0.1, got, 0.0001)
}

func TestClaude_UnknownModel(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.Zero(t, calc.Claude("gpt-nonexistent", false, 1000, 1000, 0, 0))
}
