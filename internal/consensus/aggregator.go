// Package consensus fans enrichment requests out to every available
// provider, merges their conflicting answers into one scored suggestion per
// field, and runs quota-gated post-processing stages. Partial success is
// the normal outcome: provider failures and quota skips are recorded on the
// result, never raised past it.
package consensus

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/errs"
	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/pool"
	"github.com/sells-group/crm-enrich/internal/provider"
	"github.com/sells-group/crm-enrich/internal/quota"
	"github.com/sells-group/crm-enrich/internal/verify"
)

// Config tunes the aggregator.
type Config struct {
	// MaxConcurrency caps simultaneous provider calls; kept at or below 3
	// to respect downstream quota sensitivity.
	MaxConcurrency int
	// AgreementBonus is added to the averaged confidence of agreeing
	// providers, capped at 1.0.
	AgreementBonus float64
	// ProviderTimeout bounds each individual provider call. There is no
	// cross-provider overall deadline: a hanging provider surfaces as its
	// own timeout fault without delaying siblings.
	ProviderTimeout time.Duration
	// QuickProviders is how many providers a quick single-field check uses.
	QuickProviders int
}

// DefaultConfig returns the standard aggregator tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:  3,
		AgreementBonus:  defaultAgreementBonus,
		ProviderTimeout: 30 * time.Second,
		QuickProviders:  2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxConcurrency > 3 {
		c.MaxConcurrency = 3
	}
	if c.AgreementBonus <= 0 {
		c.AgreementBonus = d.AgreementBonus
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.QuickProviders < 1 {
		c.QuickProviders = d.QuickProviders
	}
	return c
}

// Result is the merged outcome of one enrichment attempt.
type Result struct {
	RecordID       string                           `json:"record_id"`
	Suggestions    map[model.Field]model.Suggestion `json:"suggestions"`
	ProvidersUsed  []string                         `json:"providers_used,omitempty"`
	ProviderErrors []model.ProviderFailure          `json:"provider_errors,omitempty"`
	Skips          []model.Skip                     `json:"skips,omitempty"`
}

// Lookup is a quota-gated post-processing stage (directory search, email
// verification). Augment may add or adjust suggestions in place.
type Lookup interface {
	// Name identifies the stage in skip records.
	Name() string
	// Service names the quota bucket the stage draws from.
	Service() string
	Augment(ctx context.Context, p provider.Profile, r *Result) error
}

// Aggregator merges multi-provider answers into per-field consensus.
type Aggregator struct {
	cfg      Config
	registry *provider.Registry
	ledger   *quota.Ledger
	verifier *verify.Checker
	lookups  []Lookup
}

// New creates an Aggregator. ledger, verifier, and lookups are optional;
// their stages are skipped when absent.
func New(cfg Config, registry *provider.Registry, ledger *quota.Ledger) *Aggregator {
	return &Aggregator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		ledger:   ledger,
	}
}

// WithVerifier enables the website-verification stage.
func (a *Aggregator) WithVerifier(v *verify.Checker) *Aggregator {
	a.verifier = v
	return a
}

// WithLookups appends quota-gated external-lookup stages.
func (a *Aggregator) WithLookups(lookups ...Lookup) *Aggregator {
	a.lookups = append(a.lookups, lookups...)
	return a
}

// EnrichOptions disables optional stages of a full enrichment. The zero
// value runs everything.
type EnrichOptions struct {
	SkipAI      bool
	SkipLookups bool
}

// EnrichRecord fans out to every provider able to supply the requested
// fields (default: all reviewable fields), merges the answers per field,
// and runs the post-processing stages. It returns an error only for invalid
// input; provider failures and quota skips land on the Result.
func (a *Aggregator) EnrichRecord(ctx context.Context, p provider.Profile, fields ...model.Field) (*Result, error) {
	return a.EnrichRecordOpts(ctx, p, EnrichOptions{}, fields...)
}

// EnrichRecordOpts is EnrichRecord with stage toggles.
func (a *Aggregator) EnrichRecordOpts(ctx context.Context, p provider.Profile, opts EnrichOptions, fields ...model.Field) (*Result, error) {
	if p.RecordID == "" {
		return nil, errs.Validationf("consensus: profile has no record id")
	}
	if len(fields) == 0 {
		fields = model.AllFields()
	}

	var adapters []provider.Adapter
	if !opts.SkipAI {
		adapters = a.registry.For(fields)
	}
	result, err := a.fanOut(ctx, p, adapters, fields)
	if err != nil {
		return nil, err
	}
	if opts.SkipAI {
		// Overwrite the no-providers skip with the real reason.
		result.Skips = []model.Skip{{Stage: "fanout", Reason: "ai providers disabled by request"}}
	}

	a.verifyWebsite(ctx, p, result)
	if !opts.SkipLookups {
		a.runLookups(ctx, p, result)
	}

	zap.L().Info("consensus: enrichment merged",
		zap.String("record_id", p.RecordID),
		zap.Int("providers", len(adapters)),
		zap.Int("suggestions", len(result.Suggestions)),
		zap.Int("provider_errors", len(result.ProviderErrors)),
		zap.Int("skips", len(result.Skips)),
	)
	return result, nil
}

// Quick answers a single-field check against at most QuickProviders
// providers, skipping every post-processing stage. Faster and lower
// confidence than a full enrichment.
func (a *Aggregator) Quick(ctx context.Context, p provider.Profile, field model.Field) (*Result, error) {
	if p.RecordID == "" {
		return nil, errs.Validationf("consensus: profile has no record id")
	}
	fields := []model.Field{field}
	adapters := a.registry.For(fields)
	if len(adapters) > a.cfg.QuickProviders {
		adapters = adapters[:a.cfg.QuickProviders]
	}
	return a.fanOut(ctx, p, adapters, fields)
}

// providerAnswer tags one provider call's outcome so the merge folds
// successes and failures uniformly.
type providerAnswer struct {
	name       string
	candidates provider.Candidates
	fault      *provider.Fault
}

func (a *Aggregator) fanOut(ctx context.Context, p provider.Profile, adapters []provider.Adapter, fields []model.Field) (*Result, error) {
	result := &Result{
		RecordID:    p.RecordID,
		Suggestions: make(map[model.Field]model.Suggestion),
	}
	if len(adapters) == 0 {
		result.Skips = append(result.Skips, model.Skip{
			Stage:  "fanout",
			Reason: "no providers available for requested fields",
		})
		return result, nil
	}

	answers, err := pool.MapSettled(ctx, adapters, a.cfg.MaxConcurrency,
		func(ctx context.Context, _ int, adapter provider.Adapter) (providerAnswer, error) {
			callCtx, cancel := context.WithTimeout(ctx, a.cfg.ProviderTimeout)
			defer cancel()

			candidates, err := adapter.Enrich(callCtx, p, fields)
			if err != nil {
				return providerAnswer{name: adapter.Name(), fault: provider.Classify(adapter.Name(), err)}, nil
			}
			return providerAnswer{name: adapter.Name(), candidates: candidates}, nil
		})
	if err != nil {
		return nil, err
	}

	contribs := make(map[model.Field][]contribution)
	for _, settled := range answers {
		ans := settled.Value
		result.ProvidersUsed = append(result.ProvidersUsed, ans.name)
		if ans.fault != nil {
			zap.L().Warn("consensus: provider failed",
				zap.String("provider", ans.fault.Provider),
				zap.String("kind", string(ans.fault.Kind)),
				zap.Error(ans.fault.Err),
			)
			result.ProviderErrors = append(result.ProviderErrors, model.ProviderFailure{
				Provider: ans.fault.Provider,
				Error:    ans.fault.Error(),
			})
			continue
		}
		for f, c := range ans.candidates {
			if c.Value == nil {
				continue
			}
			contribs[f] = append(contribs[f], contribution{
				provider:   ans.name,
				value:      c.Value,
				confidence: c.Confidence,
			})
		}
	}

	for _, f := range fields {
		if s, ok := mergeField(f, contribs[f], a.cfg.AgreementBonus); ok {
			result.Suggestions[f] = s
		}
	}
	return result, nil
}

// verifyWebsite nudges the website suggestion's score by the verifier's
// liveness/plausibility adjustment.
func (a *Aggregator) verifyWebsite(ctx context.Context, p provider.Profile, result *Result) {
	if a.verifier == nil {
		return
	}
	s, ok := result.Suggestions[model.FieldWebsite]
	if !ok {
		return
	}
	u, ok := s.Value.(string)
	if !ok || u == "" {
		return
	}

	adj, err := a.verifier.Check(ctx, u, p.Name)
	if err != nil {
		zap.L().Warn("consensus: website verification failed", zap.String("url", u), zap.Error(err))
		result.Skips = append(result.Skips, model.Skip{
			Stage:  "verify_website",
			Reason: err.Error(),
		})
		return
	}
	s.Confidence = capConf(s.Confidence + adj)
	result.Suggestions[model.FieldWebsite] = s
}

// runLookups executes the external-lookup stages under the quota call-site
// pattern: check HasQuota, perform the call, then Consume and record the
// outcome. An exhausted budget becomes a recorded skip, never an attempt.
func (a *Aggregator) runLookups(ctx context.Context, p provider.Profile, result *Result) {
	for _, lookup := range a.lookups {
		service := lookup.Service()
		if a.ledger != nil && !a.ledger.HasQuota(ctx, service) {
			qe := &errs.QuotaExhaustedError{Service: service}
			zap.L().Info("consensus: lookup skipped",
				zap.String("stage", lookup.Name()),
				zap.String("service", service),
			)
			result.Skips = append(result.Skips, model.Skip{
				Stage:   lookup.Name(),
				Service: service,
				Reason:  qe.Error(),
			})
			continue
		}

		err := lookup.Augment(ctx, p, result)
		if a.ledger != nil {
			a.ledger.RecordOutcome(ctx, service, err == nil)
			if err == nil {
				a.ledger.Consume(ctx, service, 1)
			}
		}
		if err != nil {
			zap.L().Warn("consensus: lookup failed",
				zap.String("stage", lookup.Name()),
				zap.Error(err),
			)
			result.Skips = append(result.Skips, model.Skip{
				Stage:   lookup.Name(),
				Service: service,
				Reason:  err.Error(),
			})
		}
	}
}
