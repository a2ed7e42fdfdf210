// Package monitoring aggregates stored batch outcomes into operational
// health metrics for the stats command.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/memphis-civic/cascade-cli/internal/model"
	"github.com/memphis-civic/cascade-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of cascade health.
type MetricsSnapshot struct {
	// Batch metrics (within lookback window).
	BatchesRun         int     `json:"batches_run"`
	HeadlinesProcessed int     `json:"headlines_processed"`
	Published          int     `json:"published_contracts"`
	Blocked            int     `json:"blocked_contracts"`
	AdminRescue        int     `json:"admin_rescue_contracts"`
	Failed             int     `json:"failed_contracts"`
	ContractsGenerated int     `json:"contracts_generated"`
	Reliability        float64 `json:"pipeline_reliability"`
	EnforcementRate    float64 `json:"enforcement_rate"`
	TotalCostUSD       float64 `json:"total_cost_usd"`
	CostPerContract    float64 `json:"cost_per_contract"`

	// Rescue queue depth.
	RescuePending int `json:"rescue_pending"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the batch store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of cascade metrics over the given lookback
// window. Reliability and enforcement are computed across all headlines in
// the window, not averaged per batch, so small batches don't skew them.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	batches, err := c.store.ListBatches(ctx, store.BatchFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list batches")
	}

	snap.BatchesRun = len(batches)
	for _, b := range batches {
		snap.HeadlinesProcessed += b.TotalSubmissions
		snap.Published += b.Published
		snap.Blocked += b.Blocked
		snap.AdminRescue += b.AdminRescue
		snap.Failed += b.Failed
		snap.TotalCostUSD += b.TotalCostUSD
		for _, o := range b.Outcomes {
			snap.ContractsGenerated += o.ContractsGenerated
		}
	}

	if snap.HeadlinesProcessed > 0 {
		handled := snap.Published + snap.Blocked + snap.AdminRescue
		snap.Reliability = float64(handled) / float64(snap.HeadlinesProcessed)
		snap.EnforcementRate = float64(snap.Blocked) / float64(snap.HeadlinesProcessed)
	}
	if snap.ContractsGenerated > 0 {
		snap.CostPerContract = snap.TotalCostUSD / float64(snap.ContractsGenerated)
	}

	pending, err := c.store.CountRescue(ctx, model.RescueStatusPending)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count pending rescue")
	}
	snap.RescuePending = pending

	return snap, nil
}
