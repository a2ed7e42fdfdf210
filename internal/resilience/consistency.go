package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ConsistencyPolicy repeats a deterministic operation and compares the raw
// outputs. Temperature-zero LLM calls should agree run to run; when they do
// not, the caller gets the first result plus a divergence flag so the output
// can be routed to human review instead of being trusted blindly.
type ConsistencyPolicy struct {
	// Runs is how many times to execute the operation. Values < 1 mean 1.
	Runs int

	// OnDivergence receives all collected outputs when they disagree.
	OnDivergence func(outputs []string)
}

// ConsistencyResult carries the chosen output and whether all runs agreed.
type ConsistencyResult struct {
	Value  string
	Agreed bool
	Runs   int
}

// Run executes fn p.Runs times sequentially. All runs failing returns the
// last error; partial failures are tolerated as long as at least one run
// succeeds. Divergent outputs keep the first successful value with
// Agreed=false.
func (p ConsistencyPolicy) Run(ctx context.Context, fn func(ctx context.Context) (string, error)) (ConsistencyResult, error) {
	runs := p.Runs
	if runs < 1 {
		runs = 1
	}

	outputs := make([]string, 0, runs)
	var lastErr error
	for i := 0; i < runs; i++ {
		if ctx.Err() != nil {
			break
		}
		out, err := fn(ctx)
		if err != nil {
			lastErr = err
			zap.L().Warn("consistency run failed",
				zap.Int("run", i+1),
				zap.Error(err),
			)
			continue
		}
		outputs = append(outputs, out)
	}

	if len(outputs) == 0 {
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return ConsistencyResult{Runs: runs}, eris.Wrap(lastErr, "resilience: all consistency runs failed")
	}

	agreed := true
	for _, out := range outputs[1:] {
		if out != outputs[0] {
			agreed = false
			break
		}
	}

	if !agreed {
		zap.L().Warn("consistency runs diverged", zap.Int("outputs", len(outputs)))
		if p.OnDivergence != nil {
			p.OnDivergence(outputs)
		}
	}

	return ConsistencyResult{Value: outputs[0], Agreed: agreed, Runs: runs}, nil
}
