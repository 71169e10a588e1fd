package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/bulk"
	"github.com/sells-group/crm-enrich/internal/consensus"
	"github.com/sells-group/crm-enrich/internal/lookup"
	"github.com/sells-group/crm-enrich/internal/provider"
	"github.com/sells-group/crm-enrich/internal/quota"
	"github.com/sells-group/crm-enrich/internal/review"
	"github.com/sells-group/crm-enrich/internal/store"
	"github.com/sells-group/crm-enrich/internal/verify"
	"github.com/sells-group/crm-enrich/pkg/claude"
)

// env bundles the wired engine for command handlers.
type env struct {
	Store        store.Store
	Quota        *quota.Ledger
	Registry     *provider.Registry
	Aggregator   *consensus.Aggregator
	Review       *review.Ledger
	Orchestrator *bulk.Orchestrator
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv wires the full engine: store, quota ledger, provider registry,
// aggregator, review ledger, and bulk orchestrator.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	policy, err := loadQuotaPolicy()
	if err != nil {
		st.Close()
		return nil, err
	}

	// The sqlite store doubles as the quota counter store so budgets
	// survive restarts; other drivers fall back to in-process counters.
	var counters quota.CounterStore
	if cs, ok := st.(quota.CounterStore); ok {
		counters = cs
	} else {
		counters = quota.NewMemStore()
	}
	ledger := quota.NewLedger(counters, policy)

	registry := provider.NewRegistry()
	if cfg.Anthropic.Key != "" {
		registry.Register(claude.New(cfg.Anthropic.Key, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens))
	} else {
		zap.L().Warn("no anthropic key configured, claude provider disabled")
	}

	agg := consensus.New(consensus.Config{
		MaxConcurrency:  cfg.Consensus.MaxConcurrency,
		AgreementBonus:  cfg.Consensus.AgreementBonus,
		ProviderTimeout: time.Duration(cfg.Consensus.ProviderTimeoutSecs) * time.Second,
		QuickProviders:  cfg.Consensus.QuickProviders,
	}, registry, ledger)

	if cfg.Verify.Enabled {
		agg.WithVerifier(verify.NewChecker(
			time.Duration(cfg.Verify.TimeoutSecs)*time.Second,
			cfg.Verify.RPS,
		))
	}
	if cfg.Lookup.EmailMX {
		agg.WithLookups(lookup.NewEmailMX())
	}

	rev := review.NewLedger(st, time.Duration(cfg.Review.CooldownHours)*time.Hour)
	orch := bulk.New(bulk.Config{
		MaxIDs:      cfg.Bulk.MaxIDs,
		Concurrency: cfg.Bulk.Concurrency,
	}, agg, rev, st)

	return &env{
		Store:        st,
		Quota:        ledger,
		Registry:     registry,
		Aggregator:   agg,
		Review:       rev,
		Orchestrator: orch,
	}, nil
}

func loadQuotaPolicy() (*quota.Policy, error) {
	if cfg.Quota.PolicyPath != "" {
		policy, err := quota.LoadPolicy(cfg.Quota.PolicyPath)
		if err != nil {
			return nil, eris.Wrap(err, "load quota policy")
		}
		return policy, nil
	}
	policy := quota.DefaultPolicy()
	if cfg.Quota.DefaultMonthly > 0 {
		policy.DefaultMonthly = cfg.Quota.DefaultMonthly
	}
	if cfg.Quota.AlertThreshold > 0 {
		policy.AlertThreshold = cfg.Quota.AlertThreshold
	}
	return policy, nil
}
