package pipeline

import (
	"math"
	"sync/atomic"
)

// LayerStats counts per-layer pass/fail decisions. All counters are atomic
// so concurrent batch workers can update them without a lock.
type LayerStats struct {
	Layer0Pass      atomic.Int64
	Layer0Fail      atomic.Int64
	Layer1Pass      atomic.Int64
	Layer1Fail      atomic.Int64
	Layer2Primary   atomic.Int64
	Layer2Duplicate atomic.Int64
	Layer3Pass      atomic.Int64
	Layer3Fail      atomic.Int64
}

// Totals accumulates running counters for the stats command. Cost is stored
// in micro-dollars to stay atomic-friendly.
type Totals struct {
	HeadlinesProcessed atomic.Int64
	ContractsGenerated atomic.Int64
	costMicroUSD       atomic.Int64
	Layers             LayerStats
}

// AddCost records additional spend in USD. The amount is rounded to the
// nearest micro-dollar, not truncated, so repeated small charges do not
// drift low.
func (t *Totals) AddCost(usd float64) {
	t.costMicroUSD.Add(int64(math.Round(usd * 1e6)))
}

// CostUSD reports total spend in USD.
func (t *Totals) CostUSD() float64 {
	return float64(t.costMicroUSD.Load()) / 1e6
}

// Reset zeroes all counters, typically at the daily rollover.
func (t *Totals) Reset() {
	t.HeadlinesProcessed.Store(0)
	t.ContractsGenerated.Store(0)
	t.costMicroUSD.Store(0)
	for _, c := range []*atomic.Int64{
		&t.Layers.Layer0Pass, &t.Layers.Layer0Fail,
		&t.Layers.Layer1Pass, &t.Layers.Layer1Fail,
		&t.Layers.Layer2Primary, &t.Layers.Layer2Duplicate,
		&t.Layers.Layer3Pass, &t.Layers.Layer3Fail,
	} {
		c.Store(0)
	}
}

// DailyStats is a point-in-time snapshot of Totals.
type DailyStats struct {
	HeadlinesProcessed int64              `json:"headlines_processed"`
	ContractsGenerated int64              `json:"contracts_generated"`
	TotalCostUSD       float64            `json:"total_cost_usd"`
	CostPerContract    float64            `json:"cost_per_contract"`
	LayerCounts        map[string]int64   `json:"layer_stats"`
	PassRates          map[string]float64 `json:"pass_rates"`
}

// Snapshot captures current counters and derived rates.
func (t *Totals) Snapshot() DailyStats {
	s := DailyStats{
		HeadlinesProcessed: t.HeadlinesProcessed.Load(),
		ContractsGenerated: t.ContractsGenerated.Load(),
		TotalCostUSD:       t.CostUSD(),
		LayerCounts: map[string]int64{
			"layer_0_pass":      t.Layers.Layer0Pass.Load(),
			"layer_0_fail":      t.Layers.Layer0Fail.Load(),
			"layer_1_pass":      t.Layers.Layer1Pass.Load(),
			"layer_1_fail":      t.Layers.Layer1Fail.Load(),
			"layer_2_primary":   t.Layers.Layer2Primary.Load(),
			"layer_2_duplicate": t.Layers.Layer2Duplicate.Load(),
			"layer_3_pass":      t.Layers.Layer3Pass.Load(),
			"layer_3_fail":      t.Layers.Layer3Fail.Load(),
		},
	}
	if s.ContractsGenerated > 0 {
		s.CostPerContract = s.TotalCostUSD / float64(s.ContractsGenerated)
	}
	s.PassRates = map[string]float64{
		"layer_0": passRate(s.LayerCounts["layer_0_pass"], s.LayerCounts["layer_0_fail"]),
		"layer_1": passRate(s.LayerCounts["layer_1_pass"], s.LayerCounts["layer_1_fail"]),
		"layer_2": passRate(s.LayerCounts["layer_2_primary"], s.LayerCounts["layer_2_duplicate"]),
		"layer_3": passRate(s.LayerCounts["layer_3_pass"], s.LayerCounts["layer_3_fail"]),
	}
	return s
}

func passRate(pass, fail int64) float64 {
	total := pass + fail
	if total == 0 {
		return 0
	}
	return float64(pass) / float64(total)
}
