// Package store persists records and their append-only enrichment run
// history. Runs are never overwritten: each enrichment attempt creates a
// new row and only review fields mutate afterwards, via UpdateRun patches.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-enrich/internal/model"
)

// ErrNotFound marks a missing record or run.
var ErrNotFound = eris.New("store: not found")

// RunPatch is the set of run mutations a review action may apply.
// Suggestions entries replace the run's entries for those fields (edit
// actions); everything else in the run is immutable.
type RunPatch struct {
	Suggestions   map[model.Field]model.Suggestion
	FieldStatuses map[model.Field]model.FieldStatus
	OverallStatus *model.RunStatus
	ReviewedAt    *time.Time
	ReviewedBy    *string
}

// RecordPatch updates authoritative record fields and the cached
// enrichment status.
type RecordPatch struct {
	Values           map[model.Field]any
	EnrichmentStatus *model.EnrichmentStatus
}

// Store is the persistence interface for the enrichment engine.
type Store interface {
	// Runs (append-only).
	CreateRun(ctx context.Context, run *model.EnrichmentRun) error
	UpdateRun(ctx context.Context, id string, patch RunPatch) error
	GetRun(ctx context.Context, id string) (*model.EnrichmentRun, error)
	FindLatestRun(ctx context.Context, recordID string) (*model.EnrichmentRun, error)
	FindRunsFor(ctx context.Context, recordID string) ([]model.EnrichmentRun, error)

	// Records (upsert).
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	SaveRecord(ctx context.Context, r *model.Record) error
	UpdateRecord(ctx context.Context, id string, patch RecordPatch) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// applyRunPatch merges a patch into an in-memory run copy. Shared by the
// memory and document-style store implementations.
func applyRunPatch(run *model.EnrichmentRun, patch RunPatch) {
	if run.Suggestions == nil {
		run.Suggestions = make(map[model.Field]model.Suggestion)
	}
	for f, s := range patch.Suggestions {
		run.Suggestions[f] = s
	}
	if run.FieldStatuses == nil {
		run.FieldStatuses = make(map[model.Field]model.FieldStatus)
	}
	for f, st := range patch.FieldStatuses {
		run.FieldStatuses[f] = st
	}
	if patch.OverallStatus != nil {
		run.OverallStatus = *patch.OverallStatus
	}
	if patch.ReviewedAt != nil {
		run.ReviewedAt = patch.ReviewedAt
	}
	if patch.ReviewedBy != nil {
		run.ReviewedBy = *patch.ReviewedBy
	}
}

// applyRecordPatch merges a patch into an in-memory record copy.
func applyRecordPatch(r *model.Record, patch RecordPatch, now time.Time) error {
	for f, v := range patch.Values {
		if err := r.Apply(f, v); err != nil {
			return err
		}
	}
	if patch.EnrichmentStatus != nil {
		r.EnrichmentStatus = *patch.EnrichmentStatus
	}
	r.UpdatedAt = now
	return nil
}
