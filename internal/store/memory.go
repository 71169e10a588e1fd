package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-enrich/internal/model"
)

// MemoryStore is an in-process Store for tests and single-shot CLI use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.Record
	runs    map[string]*model.EnrichmentRun
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.Record),
		runs:    make(map[string]*model.EnrichmentRun),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) CreateRun(_ context.Context, run *model.EnrichmentRun) error {
	if run.ID == "" {
		return eris.New("memory: run has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return eris.Errorf("memory: run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, id string, patch RunPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: run %s", id)
	}
	applyRunPatch(run, patch)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*model.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: run %s", id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) FindLatestRun(_ context.Context, recordID string) (*model.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.EnrichmentRun
	for _, run := range s.runs {
		if run.RecordID != recordID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRun(latest), nil
}

func (s *MemoryStore) FindRunsFor(_ context.Context, recordID string) ([]model.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EnrichmentRun
	for _, run := range s.runs {
		if run.RecordID == recordID {
			out = append(out, *cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetRecord(_ context.Context, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: record %s", id)
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) SaveRecord(_ context.Context, r *model.Record) error {
	if r.ID == "" {
		return eris.New("memory: record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = cloneRecord(r)
	return nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, id string, patch RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: record %s", id)
	}
	return applyRecordPatch(r, patch, time.Now().UTC())
}

// Clones go through JSON so callers can mutate results freely; value types
// in suggestions are already JSON-shaped.
func cloneRun(run *model.EnrichmentRun) *model.EnrichmentRun {
	data, _ := json.Marshal(run)
	var out model.EnrichmentRun
	_ = json.Unmarshal(data, &out)
	return &out
}

func cloneRecord(r *model.Record) *model.Record {
	data, _ := json.Marshal(r)
	var out model.Record
	_ = json.Unmarshal(data, &out)
	return &out
}
