package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Counter is one service's daily usage state.
type Counter struct {
	Service        string    `json:"service"`
	Used           int       `json:"used"`
	Success        int       `json:"success"`
	Error          int       `json:"error"`
	LastReset      time.Time `json:"last_reset"`
	AlertThreshold float64   `json:"alert_threshold"`
}

// HistoryEntry is one service's usage snapshot for one calendar day.
// History rows are append-only.
type HistoryEntry struct {
	Service string `json:"service"`
	Day     string `json:"day"` // YYYY-MM-DD, UTC
	Used    int    `json:"used"`
	Success int    `json:"success"`
	Error   int    `json:"error"`
}

// CounterStore abstracts counter and history persistence so a shared
// backing store can replace the in-process default without touching call
// sites. Implementations must make Counter/SaveCounter behave as an atomic
// check-and-set under the Ledger's lock.
type CounterStore interface {
	Counter(ctx context.Context, service string) (Counter, bool, error)
	SaveCounter(ctx context.Context, c Counter) error
	AppendHistory(ctx context.Context, e HistoryEntry) error
	History(ctx context.Context, service string, days int) ([]HistoryEntry, error)
	// Services lists every service with a tracked counter.
	Services(ctx context.Context) ([]string, error)
}

// MemStore is the in-memory CounterStore used by default and in tests.
type MemStore struct {
	mu       sync.Mutex
	counters map[string]Counter
	history  map[string][]HistoryEntry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		counters: make(map[string]Counter),
		history:  make(map[string][]HistoryEntry),
	}
}

func (m *MemStore) Counter(_ context.Context, service string) (Counter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[service]
	return c, ok, nil
}

func (m *MemStore) SaveCounter(_ context.Context, c Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[c.Service] = c
	return nil
}

func (m *MemStore) AppendHistory(_ context.Context, e HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.Service] = append(m.history[e.Service], e)
	return nil
}

func (m *MemStore) History(_ context.Context, service string, days int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[service]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	if days > 0 && len(out) > days {
		out = out[:days]
	}
	return out, nil
}

func (m *MemStore) Services(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.counters))
	for s := range m.counters {
		names = append(names, s)
	}
	sort.Strings(names)
	return names, nil
}
