// Package review turns AI suggestions into authoritative record data only
// after explicit confirmation. Each field on a run moves PENDING ->
// CONFIRMED or PENDING -> REJECTED exactly once; the run flips to CONFIRMED
// when every field is terminal. Runs themselves are append-only history.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/consensus"
	"github.com/sells-group/crm-enrich/internal/errs"
	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/store"
)

// DefaultCooldown is the advisory re-enrichment window.
const DefaultCooldown = 24 * time.Hour

// CooldownWarning flags a re-run inside the cooldown window. The run still
// executes; the warning exists to surface accidental repeated quota burn.
type CooldownWarning struct {
	LastRunAt time.Time
	Window    time.Duration
}

// Message renders the warning for logs and CLI output.
func (w *CooldownWarning) Message() string {
	return fmt.Sprintf("record was enriched %s ago, within the %s cooldown window",
		time.Since(w.LastRunAt).Round(time.Minute), w.Window)
}

// Action names a review operation.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionConfirm, ActionReject, ActionEdit:
		return Action(s), true
	default:
		return "", false
	}
}

// Ledger drives the per-field review state machine over the store.
type Ledger struct {
	store    store.Store
	cooldown time.Duration
	now      func() time.Time
}

// NewLedger creates a review ledger. cooldown <= 0 selects the default.
func NewLedger(st store.Store, cooldown time.Duration) *Ledger {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Ledger{store: st, cooldown: cooldown, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// StartRun appends a new enrichment run for the record from a consensus
// result and marks the record PENDING. When the latest prior run is younger
// than the cooldown window a warning is returned alongside the run; the
// cooldown never blocks.
func (l *Ledger) StartRun(ctx context.Context, recordID string, res *consensus.Result) (*model.EnrichmentRun, *CooldownWarning, error) {
	if recordID == "" {
		return nil, nil, errs.Validationf("review: record id is required")
	}

	var warning *CooldownWarning
	latest, err := l.store.FindLatestRun(ctx, recordID)
	if err != nil {
		return nil, nil, errs.Persistence("find latest run", err)
	}
	now := l.now().UTC()
	if latest != nil && now.Sub(latest.CreatedAt) < l.cooldown {
		warning = &CooldownWarning{LastRunAt: latest.CreatedAt, Window: l.cooldown}
		zap.L().Warn("review: re-run within cooldown",
			zap.String("record_id", recordID),
			zap.Time("last_run_at", latest.CreatedAt),
			zap.Duration("cooldown", l.cooldown),
		)
	}

	run := &model.EnrichmentRun{
		ID:             uuid.New().String(),
		RecordID:       recordID,
		CreatedAt:      now,
		Suggestions:    res.Suggestions,
		ProvidersUsed:  res.ProvidersUsed,
		ProviderErrors: res.ProviderErrors,
		Skips:          res.Skips,
		FieldStatuses:  make(map[model.Field]model.FieldStatus, len(res.Suggestions)),
		OverallStatus:  model.RunPending,
	}
	for f := range res.Suggestions {
		run.FieldStatuses[f] = model.FieldPending
	}

	if err := l.store.CreateRun(ctx, run); err != nil {
		return nil, nil, errs.Persistence("create run", err)
	}

	status := model.DeriveStatus(run)
	if err := l.store.UpdateRecord(ctx, recordID, store.RecordPatch{EnrichmentStatus: &status}); err != nil {
		return nil, nil, errs.Persistence("update record status", err)
	}

	zap.L().Info("review: run created",
		zap.String("run_id", run.ID),
		zap.String("record_id", recordID),
		zap.Int("suggested_fields", len(run.Suggestions)),
	)
	return run, warning, nil
}

// Confirm copies the AI-suggested values for the given fields into the
// authoritative record and marks those fields CONFIRMED.
func (l *Ledger) Confirm(ctx context.Context, runID string, fields []model.Field, reviewer string) (*model.EnrichmentRun, error) {
	return l.apply(ctx, runID, fields, nil, reviewer, ActionConfirm)
}

// Reject marks the given fields REJECTED; the record is untouched.
func (l *Ledger) Reject(ctx context.Context, runID string, fields []model.Field, reviewer string) (*model.EnrichmentRun, error) {
	return l.apply(ctx, runID, fields, nil, reviewer, ActionReject)
}

// Edit writes caller-supplied values over the AI suggestion, into both the
// run and the record, and marks those fields CONFIRMED.
func (l *Ledger) Edit(ctx context.Context, runID string, values map[model.Field]any, reviewer string) (*model.EnrichmentRun, error) {
	if len(values) == 0 {
		return nil, errs.Validationf("review: edit requires values")
	}
	fields := make([]model.Field, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	return l.apply(ctx, runID, fields, values, reviewer, ActionEdit)
}

// apply is the single transition path for every review action. The guard
// rejects the whole action with a conflict when the run is gone, already
// confirmed, or none of the requested fields is still PENDING: double
// review of a terminal field must fail loudly to keep history consistent.
func (l *Ledger) apply(ctx context.Context, runID string, fields []model.Field, edited map[model.Field]any, reviewer string, action Action) (*model.EnrichmentRun, error) {
	run, err := l.store.GetRun(ctx, runID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, errs.Conflictf("review: run %s does not exist", runID)
		}
		return nil, errs.Persistence("get run", err)
	}
	if run.OverallStatus != model.RunPending {
		return nil, errs.Conflictf("review: run %s is already %s", runID, run.OverallStatus)
	}
	if len(fields) == 0 {
		return nil, errs.Validationf("review: no fields given")
	}

	var actionable []model.Field
	for _, f := range fields {
		if run.FieldStatuses[f] == model.FieldPending {
			actionable = append(actionable, f)
		}
	}
	if len(actionable) == 0 {
		return nil, errs.Conflictf("review: none of the requested fields are pending on run %s", runID)
	}

	now := l.now().UTC()
	patch := store.RunPatch{
		FieldStatuses: make(map[model.Field]model.FieldStatus, len(actionable)),
		ReviewedAt:    &now,
		ReviewedBy:    &reviewer,
	}
	recordValues := make(map[model.Field]any)

	for _, f := range actionable {
		switch action {
		case ActionReject:
			patch.FieldStatuses[f] = model.FieldRejected
			run.FieldStatuses[f] = model.FieldRejected
		case ActionConfirm:
			patch.FieldStatuses[f] = model.FieldConfirmed
			run.FieldStatuses[f] = model.FieldConfirmed
			recordValues[f] = run.Suggestions[f].Value
		case ActionEdit:
			value := edited[f]
			patch.FieldStatuses[f] = model.FieldConfirmed
			run.FieldStatuses[f] = model.FieldConfirmed
			s := run.Suggestions[f]
			s.Value = value
			s.Sources = append(s.Sources, "manual_edit")
			run.Suggestions[f] = s
			if patch.Suggestions == nil {
				patch.Suggestions = make(map[model.Field]model.Suggestion)
			}
			patch.Suggestions[f] = s
			recordValues[f] = value
		}
	}

	if allTerminal(run) {
		confirmed := model.RunConfirmed
		patch.OverallStatus = &confirmed
		run.OverallStatus = confirmed
	}
	run.ReviewedAt = &now
	run.ReviewedBy = reviewer

	if err := l.store.UpdateRun(ctx, runID, patch); err != nil {
		return nil, errs.Persistence("update run", err)
	}

	status := model.DeriveStatus(run)
	recordPatch := store.RecordPatch{EnrichmentStatus: &status}
	if len(recordValues) > 0 {
		recordPatch.Values = recordValues
	}
	if err := l.store.UpdateRecord(ctx, run.RecordID, recordPatch); err != nil {
		return nil, errs.Persistence("update record", err)
	}

	zap.L().Info("review: action applied",
		zap.String("run_id", runID),
		zap.String("action", string(action)),
		zap.Int("fields", len(actionable)),
		zap.String("record_status", string(status)),
		zap.String("reviewer", reviewer),
	)
	return run, nil
}

func allTerminal(run *model.EnrichmentRun) bool {
	for _, st := range run.FieldStatuses {
		if !st.Terminal() {
			return false
		}
	}
	return len(run.FieldStatuses) > 0
}
