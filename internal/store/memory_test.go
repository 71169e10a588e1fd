package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-enrich/internal/model"
)

func sampleRun(id, recordID string, createdAt time.Time) *model.EnrichmentRun {
	return &model.EnrichmentRun{
		ID:        id,
		RecordID:  recordID,
		CreatedAt: createdAt,
		Suggestions: map[model.Field]model.Suggestion{
			model.FieldWebsite: {Value: "https://acme.io", Confidence: 0.8, Sources: []string{"claude"}},
		},
		FieldStatuses: map[model.Field]model.FieldStatus{
			model.FieldWebsite: model.FieldPending,
		},
		OverallStatus: model.RunPending,
	}
}

// exerciseStore runs the Store contract against any implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Records round-trip through save and get.
	rec := &model.Record{ID: "rec-1", Name: "Acme", EnrichmentStatus: model.EnrichmentNone}
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	_, err = s.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Runs are append-only and queryable newest first.
	require.NoError(t, s.CreateRun(ctx, sampleRun("run-1", "rec-1", base)))
	require.NoError(t, s.CreateRun(ctx, sampleRun("run-2", "rec-1", base.Add(time.Hour))))

	latest, err := s.FindLatestRun(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.ID)

	none, err := s.FindLatestRun(ctx, "rec-other")
	require.NoError(t, err)
	assert.Nil(t, none)

	runs, err := s.FindRunsFor(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)

	// Run patches mutate only review state.
	confirmed := model.RunConfirmed
	reviewedAt := base.Add(2 * time.Hour)
	reviewer := "ops@sells.group"
	require.NoError(t, s.UpdateRun(ctx, "run-2", RunPatch{
		FieldStatuses: map[model.Field]model.FieldStatus{model.FieldWebsite: model.FieldConfirmed},
		OverallStatus: &confirmed,
		ReviewedAt:    &reviewedAt,
		ReviewedBy:    &reviewer,
	}))

	run, err := s.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, model.FieldConfirmed, run.FieldStatuses[model.FieldWebsite])
	assert.Equal(t, model.RunConfirmed, run.OverallStatus)
	require.NotNil(t, run.ReviewedAt)
	assert.Equal(t, reviewer, run.ReviewedBy)
	assert.Equal(t, "https://acme.io", run.Suggestions[model.FieldWebsite].Value)

	assert.ErrorIs(t, s.UpdateRun(ctx, "missing", RunPatch{}), ErrNotFound)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Record patches write reviewed values and the derived status.
	partial := model.EnrichmentPartial
	require.NoError(t, s.UpdateRecord(ctx, "rec-1", RecordPatch{
		Values:           map[model.Field]any{model.FieldWebsite: "https://acme.io"},
		EnrichmentStatus: &partial,
	}))

	got, err = s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.io", got.Website)
	assert.Equal(t, model.EnrichmentPartial, got.EnrichmentStatus)
	assert.False(t, got.UpdatedAt.IsZero())

	assert.ErrorIs(t, s.UpdateRecord(ctx, "missing", RecordPatch{}), ErrNotFound)
}

func TestMemoryStore_Contract(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Migrate(context.Background()))
	exerciseStore(t, s)
}

func TestMemoryStore_DuplicateRunRejected(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	run := sampleRun("run-1", "rec-1", time.Now())

	require.NoError(t, s.CreateRun(ctx, run))
	assert.Error(t, s.CreateRun(ctx, run))
}

func TestMemoryStore_ReturnsClones(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.SaveRecord(ctx, &model.Record{ID: "rec-1", Name: "Acme"}))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	got.Name = "Mutated"

	again, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", again.Name)
}
