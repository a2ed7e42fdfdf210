package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/memphis-civic/cascade-cli/internal/cluster"
	"github.com/memphis-civic/cascade-cli/internal/config"
	"github.com/memphis-civic/cascade-cli/internal/cost"
	"github.com/memphis-civic/cascade-cli/internal/pipeline"
	"github.com/memphis-civic/cascade-cli/internal/store"
	anthropicpkg "github.com/memphis-civic/cascade-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized store and cascade needed by the
// process/batch commands.
type pipelineEnv struct {
	Store      store.Store
	Controller *pipeline.Controller
	Processor  *pipeline.BatchProcessor
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cascade.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pricingRates converts configured pricing into calculator rates, falling
// back to built-in defaults when nothing is configured.
func pricingRates(p config.PricingConfig) cost.Rates {
	if len(p.Anthropic) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(p.Anthropic))}
	for modelName, r := range p.Anthropic {
		rates.Anthropic[modelName] = cost.ModelRate{
			Input:         r.Input,
			Output:        r.Output,
			BatchDiscount: r.BatchDiscount,
			CacheWriteMul: r.CacheWriteMul,
			CacheReadMul:  r.CacheReadMul,
		}
	}
	return rates
}

// initPipeline sets up the store, the Anthropic client, and all four cascade
// layers. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	calc := cost.NewCalculator(pricingRates(cfg.Pricing))
	limiter := rate.NewLimiter(rate.Limit(cfg.Anthropic.RequestsPerSecond), cfg.Anthropic.Burst)

	classifier := pipeline.NewClassifier(client, cfg.Anthropic.HaikuModel, calc, limiter)

	var cache pipeline.ResponseCache
	if cfg.Critic.EnableCache {
		cache = pipeline.NewMemoryResponseCache()
	}
	critic := pipeline.NewCritic(client, cfg.Anthropic.SonnetModel, calc, limiter, cache,
		cfg.Critic.ConsistencyRuns, cfg.Critic.BalanceThreshold)
	generator := pipeline.NewGenerator(client, cfg.Anthropic.SonnetModel, calc, limiter, critic,
		cfg.Variants.Target, cfg.Variants.Minimum)

	engine := cluster.NewEngine(cluster.NewMemoryStore(), cfg.Cluster.SimilarityThreshold)

	ctrl := pipeline.NewController(classifier, engine, generator, &pipeline.Totals{})
	proc := pipeline.NewBatchProcessor(ctrl, st, cfg.Batch.MaxConcurrentHeadlines, cfg.Batch.ReliabilityTarget,
		time.Duration(cfg.Cluster.RetentionHours)*time.Hour)

	return &pipelineEnv{
		Store:      st,
		Controller: ctrl,
		Processor:  proc,
	}, nil
}
