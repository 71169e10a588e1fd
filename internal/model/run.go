package model

import "time"

// FieldStatus is the review state of a single suggested field.
type FieldStatus string

const (
	FieldPending   FieldStatus = "pending"
	FieldConfirmed FieldStatus = "confirmed"
	FieldRejected  FieldStatus = "rejected"
)

// Terminal reports whether the field has been reviewed either way.
func (s FieldStatus) Terminal() bool {
	return s == FieldConfirmed || s == FieldRejected
}

// RunStatus is the overall review state of an enrichment run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunConfirmed RunStatus = "confirmed"
)

// EnrichmentStatus is the derived, record-level view of the latest run.
type EnrichmentStatus string

const (
	EnrichmentNone     EnrichmentStatus = "none"
	EnrichmentPending  EnrichmentStatus = "pending"
	EnrichmentPartial  EnrichmentStatus = "partial"
	EnrichmentComplete EnrichmentStatus = "complete"
)

// Suggestion is one merged per-field answer with its consensus score.
type Suggestion struct {
	Value      any      `json:"value"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
}

// ProviderFailure records one provider's error without failing the run.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Skip records a stage that was deliberately not attempted.
type Skip struct {
	Stage   string `json:"stage"`
	Service string `json:"service,omitempty"`
	Reason  string `json:"reason"`
}

// EnrichmentRun is one enrichment attempt for a record. Runs are
// append-only: a new attempt always creates a new run, and only the review
// fields (statuses, reviewedAt, reviewedBy) and edited suggestion values
// mutate afterwards.
type EnrichmentRun struct {
	ID             string                `json:"id"`
	RecordID       string                `json:"record_id"`
	CreatedAt      time.Time             `json:"created_at"`
	Suggestions    map[Field]Suggestion  `json:"suggestions"`
	ProvidersUsed  []string              `json:"providers_used,omitempty"`
	ProviderErrors []ProviderFailure     `json:"provider_errors,omitempty"`
	Skips          []Skip                `json:"skips,omitempty"`
	FieldStatuses  map[Field]FieldStatus `json:"field_statuses"`
	OverallStatus  RunStatus             `json:"overall_status"`
	ReviewedAt     *time.Time            `json:"reviewed_at,omitempty"`
	ReviewedBy     string                `json:"reviewed_by,omitempty"`
}

// PendingFields returns the fields still awaiting review, in canonical order.
func (r *EnrichmentRun) PendingFields() []Field {
	var out []Field
	for _, f := range allFields {
		if r.FieldStatuses[f] == FieldPending {
			out = append(out, f)
		}
	}
	return out
}

// DeriveStatus computes the record-level enrichment status from the latest
// run's field statuses. A nil run means the record was never enriched.
func DeriveStatus(run *EnrichmentRun) EnrichmentStatus {
	if run == nil {
		return EnrichmentNone
	}
	total, terminal := 0, 0
	for _, st := range run.FieldStatuses {
		total++
		if st.Terminal() {
			terminal++
		}
	}
	switch {
	case total == 0:
		return EnrichmentNone
	case terminal == total:
		return EnrichmentComplete
	case terminal > 0:
		return EnrichmentPartial
	default:
		return EnrichmentPending
	}
}
