package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetention is how long idle clusters are kept before eviction.
const DefaultRetention = 168 * time.Hour

// Result is the dedup verdict for one headline.
type Result struct {
	ClusterID    string
	IsPrimary    bool
	SimilarCount int
	Reason       string
	LatencyMS    float64
}

// Stats summarizes the engine's current state.
type Stats struct {
	TotalClusters          int     `json:"total_clusters"`
	TotalHeadlines         int     `json:"total_headlines"`
	AvgHeadlinesPerCluster float64 `json:"avg_headlines_per_cluster"`
}

// Engine assigns headlines to clusters and enforces the one-contract-per-
// cluster-per-day rule. All day arithmetic uses the UTC calendar date.
type Engine struct {
	mu        sync.Mutex
	store     Store
	threshold float64
}

// NewEngine creates a dedup engine over the given store. threshold is the
// minimum similarity for joining an existing cluster; values <= 0 fall back
// to 0.7.
func NewEngine(store Store, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Engine{store: store, threshold: threshold}
}

// FindOrCreate assigns the headline to the best matching cluster, or creates
// a new one. The whole lookup-and-update is a single atomic unit: two
// concurrent submissions of near-identical headlines cannot both come back
// primary for the same day.
//
// Ties between equally similar clusters go to the earliest-inserted one:
// List returns insertion order and only a strictly greater score displaces
// the current best.
func (e *Engine) FindOrCreate(headline string, entityTags []string, now time.Time) Result {
	start := time.Now()

	topicSig := TopicSignature(headline)
	entitySig := EntitySignature(headline, entityTags)

	e.mu.Lock()
	defer e.mu.Unlock()

	var best *Cluster
	bestScore := 0.0
	for _, c := range e.store.List() {
		score := Similarity(topicSig, entitySig, c.TopicSignature, c.EntitySignature)
		if score > e.threshold && score > bestScore {
			best = c
			bestScore = score
		}
	}

	var res Result
	if best != nil {
		best.SimilarHeadlines = append(best.SimilarHeadlines, headline)
		best.TotalHeadlines++

		if sameUTCDay(best.LastContractAt, now) {
			res = Result{
				ClusterID:    best.ID,
				IsPrimary:    false,
				SimilarCount: len(best.SimilarHeadlines),
				Reason:       "similar to existing cluster, contract already generated today",
			}
		} else {
			lastDate := "never"
			if !best.LastContractAt.IsZero() {
				lastDate = best.LastContractAt.UTC().Format("2006-01-02")
			}
			best.LastContractAt = now
			res = Result{
				ClusterID:    best.ID,
				IsPrimary:    true,
				SimilarCount: len(best.SimilarHeadlines),
				Reason:       fmt.Sprintf("primary headline for cluster (last contract: %s)", lastDate),
			}
		}
		e.store.Put(best)
	} else {
		c := &Cluster{
			ID:              clusterID(topicSig, entitySig, now),
			PrimaryHeadline: headline,
			TopicSignature:  topicSig,
			EntitySignature: entitySig,
			LastContractAt:  now,
			TotalHeadlines:  1,
			CreatedAt:       now,
		}
		e.store.Put(c)
		res = Result{
			ClusterID: c.ID,
			IsPrimary: true,
			Reason:    "new cluster created, generating contract",
		}
	}

	res.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0

	zap.L().Debug("cluster: assigned headline",
		zap.String("cluster_id", res.ClusterID),
		zap.Bool("is_primary", res.IsPrimary),
		zap.Float64("best_similarity", bestScore),
	)

	return res
}

// Evict removes clusters whose last contract is older than retention.
// Returns the number of clusters removed.
func (e *Engine) Evict(now time.Time, retention time.Duration) int {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	e.mu.Lock()
	defer e.mu.Unlock()

	var stale []string
	for _, c := range e.store.List() {
		if !c.LastContractAt.IsZero() && c.LastContractAt.Before(cutoff) {
			stale = append(stale, c.ID)
		}
	}
	for _, id := range stale {
		e.store.Delete(id)
	}

	if len(stale) > 0 {
		zap.L().Info("cluster: evicted stale clusters", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Stats reports cluster counts for the stats command.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{TotalClusters: e.store.Len()}
	for _, c := range e.store.List() {
		s.TotalHeadlines += c.TotalHeadlines
	}
	if s.TotalClusters > 0 {
		s.AvgHeadlinesPerCluster = float64(s.TotalHeadlines) / float64(s.TotalClusters)
	}
	return s
}

func sameUTCDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func clusterID(topicSig, entitySig string, now time.Time) string {
	sum := sha256.Sum256([]byte(topicSig + "_" + entitySig + "_" + now.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:12]
}
