// Package provider defines the adapter interface and registry for external
// enrichment sources (AI models, verification services, directories).
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/crm-enrich/internal/model"
)

// Profile is the partial record context handed to providers.
type Profile struct {
	RecordID string   `json:"record_id"`
	Name     string   `json:"name"`
	Website  string   `json:"website,omitempty"`
	Location string   `json:"location,omitempty"`
	Industry string   `json:"industry,omitempty"`
	Emails   []string `json:"emails,omitempty"`
	Phones   []string `json:"phones,omitempty"`
}

// Candidate is one provider's raw guess for a single field.
type Candidate struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Candidates maps reviewable fields to a provider's guesses.
type Candidates map[model.Field]Candidate

// Adapter is the interface every enrichment source implements. Enrich must
// report timeouts, auth failures, and malformed output as errors (ideally
// *Fault), never panic into the aggregator.
type Adapter interface {
	Name() string
	Fields() []model.Field
	CanProvide(f model.Field) bool
	Enrich(ctx context.Context, p Profile, fields []model.Field) (Candidates, error)
}

// Registry manages the configured adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, replacing any previous one with the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name, or nil.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// List returns all registered adapter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For returns the adapters able to supply at least one of the given fields,
// in name order so fan-out is deterministic.
func (r *Registry) For(fields []model.Field) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Adapter
	for _, name := range r.listLocked() {
		a := r.adapters[name]
		for _, f := range fields {
			if a.CanProvide(f) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func (r *Registry) listLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
