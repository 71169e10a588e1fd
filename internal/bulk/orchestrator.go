// Package bulk runs enrichment and review across many records with
// per-item failure isolation: one record's failure is recorded as a tagged
// result instead of aborting the batch.
package bulk

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-enrich/internal/consensus"
	"github.com/sells-group/crm-enrich/internal/errs"
	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/pool"
	"github.com/sells-group/crm-enrich/internal/provider"
	"github.com/sells-group/crm-enrich/internal/review"
	"github.com/sells-group/crm-enrich/internal/store"
)

const (
	// DefaultMaxIDs bounds one batch request.
	DefaultMaxIDs = 50
	// maxConcurrency caps simultaneous per-record enrichments, matching
	// the aggregator's own quota-sensitive cap.
	maxConcurrency = 3
)

// Config tunes the orchestrator.
type Config struct {
	MaxIDs      int
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxIDs < 1 {
		c.MaxIDs = DefaultMaxIDs
	}
	if c.Concurrency < 1 || c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}
	return c
}

// EnrichRequest is one batch enrichment call.
type EnrichRequest struct {
	IDs         []string `json:"ids"`
	SkipAI      bool     `json:"skip_ai,omitempty"`
	SkipLookups bool     `json:"skip_external_lookups,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// ItemResult is the tagged outcome for one record in a batch.
type ItemResult struct {
	RecordID        string `json:"record_id"`
	RunID           string `json:"run_id,omitempty"`
	FieldsSuggested int    `json:"fields_suggested"`
	CooldownWarning string `json:"cooldown_warning,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BatchResult aggregates a batch enrichment call.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []ItemResult `json:"results"`
}

// Orchestrator fans single-record enrichment and review over batches.
type Orchestrator struct {
	cfg    Config
	agg    *consensus.Aggregator
	ledger *review.Ledger
	store  store.Store
}

// New creates an Orchestrator.
func New(cfg Config, agg *consensus.Aggregator, ledger *review.Ledger, st store.Store) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults(), agg: agg, ledger: ledger, store: st}
}

// EnrichMany enriches every requested record, isolating per-item failures.
// Over-limit and empty requests are rejected before any work starts.
func (o *Orchestrator) EnrichMany(ctx context.Context, req EnrichRequest) (*BatchResult, error) {
	if len(req.IDs) == 0 {
		return nil, errs.Validationf("bulk: no record ids given")
	}
	if len(req.IDs) > o.cfg.MaxIDs {
		return nil, errs.Validationf("bulk: %d ids exceeds the maximum of %d", len(req.IDs), o.cfg.MaxIDs)
	}
	fields, unknown := model.ParseFields(req.Fields)
	if len(unknown) > 0 {
		return nil, errs.Validationf("bulk: unknown fields %v", unknown)
	}

	opts := consensus.EnrichOptions{SkipAI: req.SkipAI, SkipLookups: req.SkipLookups}
	settled, err := pool.MapSettled(ctx, req.IDs, o.cfg.Concurrency,
		func(ctx context.Context, _ int, id string) (ItemResult, error) {
			return o.enrichOne(ctx, id, fields, opts)
		})
	if err != nil {
		return nil, err
	}

	out := &BatchResult{Total: len(req.IDs)}
	for i, s := range settled {
		item := s.Value
		if s.Err != nil {
			item = ItemResult{RecordID: req.IDs[i], Error: s.Err.Error()}
		}
		if item.Error != "" {
			out.Failed++
		} else {
			out.Successful++
		}
		out.Results = append(out.Results, item)
	}

	zap.L().Info("bulk: enrichment batch complete",
		zap.Int("total", out.Total),
		zap.Int("successful", out.Successful),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

func (o *Orchestrator) enrichOne(ctx context.Context, id string, fields []model.Field, opts consensus.EnrichOptions) (ItemResult, error) {
	record, err := o.store.GetRecord(ctx, id)
	if err != nil {
		return ItemResult{RecordID: id, Error: err.Error()}, nil
	}

	p := provider.Profile{
		RecordID: record.ID,
		Name:     record.Name,
		Website:  record.Website,
		Location: record.Location,
		Industry: record.Industry,
		Emails:   record.Emails,
		Phones:   record.Phones,
	}

	res, err := o.agg.EnrichRecordOpts(ctx, p, opts, fields...)
	if err != nil {
		return ItemResult{RecordID: id, Error: err.Error()}, nil
	}

	run, warning, err := o.ledger.StartRun(ctx, id, res)
	if err != nil {
		return ItemResult{RecordID: id, Error: err.Error()}, nil
	}

	item := ItemResult{
		RecordID:        id,
		RunID:           run.ID,
		FieldsSuggested: len(run.Suggestions),
	}
	if warning != nil {
		item.CooldownWarning = warning.Message()
	}
	return item, nil
}

// ReviewItem targets one record's latest pending run.
type ReviewItem struct {
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// ReviewSummary aggregates a batch review call.
type ReviewSummary struct {
	Confirmed int          `json:"confirmed"`
	Rejected  int          `json:"rejected"`
	Errored   int          `json:"errored"`
	Errors    []ItemResult `json:"errors,omitempty"`
}

// ReviewMany applies a confirm or reject action across many records,
// enforcing the review guard per item and aggregating counts. Edit is a
// deliberate single-record action and is not batched.
func (o *Orchestrator) ReviewMany(ctx context.Context, action review.Action, items []ReviewItem, reviewer string) (*ReviewSummary, error) {
	if action != review.ActionConfirm && action != review.ActionReject {
		return nil, errs.Validationf("bulk: batch review supports confirm and reject, got %q", action)
	}
	if len(items) == 0 {
		return nil, errs.Validationf("bulk: no review items given")
	}
	if len(items) > o.cfg.MaxIDs {
		return nil, errs.Validationf("bulk: %d items exceeds the maximum of %d", len(items), o.cfg.MaxIDs)
	}

	var confirmed, rejected, errored atomic.Int64
	var mu sync.Mutex
	var itemErrors []ItemResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			fields, unknown := model.ParseFields(item.Fields)
			var err error
			if len(unknown) > 0 {
				err = errs.Validationf("unknown fields %v", unknown)
			} else {
				err = o.reviewOne(gctx, action, item.ID, fields, reviewer)
			}
			if err != nil {
				errored.Add(1)
				mu.Lock()
				itemErrors = append(itemErrors, ItemResult{RecordID: item.ID, Error: err.Error()})
				mu.Unlock()
				return nil // per-item isolation
			}
			if action == review.ActionConfirm {
				confirmed.Add(1)
			} else {
				rejected.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &ReviewSummary{
		Confirmed: int(confirmed.Load()),
		Rejected:  int(rejected.Load()),
		Errored:   int(errored.Load()),
		Errors:    itemErrors,
	}
	zap.L().Info("bulk: review batch complete",
		zap.String("action", string(action)),
		zap.Int("confirmed", summary.Confirmed),
		zap.Int("rejected", summary.Rejected),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}

func (o *Orchestrator) reviewOne(ctx context.Context, action review.Action, recordID string, fields []model.Field, reviewer string) error {
	run, err := o.store.FindLatestRun(ctx, recordID)
	if err != nil {
		return errs.Persistence("find latest run", err)
	}
	if run == nil {
		return errs.Conflictf("record %s has no enrichment runs", recordID)
	}
	if len(fields) == 0 {
		fields = run.PendingFields()
	}
	if action == review.ActionConfirm {
		_, err = o.ledger.Confirm(ctx, run.ID, fields, reviewer)
	} else {
		_, err = o.ledger.Reject(ctx, run.ID, fields, reviewer)
	}
	return err
}
