// Package quota tracks daily per-service usage of shared external-API
// allowances. Counters reset lazily on the first access of a new UTC
// calendar day; the closing day's numbers are snapshotted into append-only
// history rows. Callers of quota-protected APIs must check HasQuota before
// calling out and Consume after a successful call; on exhaustion the call
// is skipped with a recorded reason rather than attempted.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/errs"
)

const dayFormat = "2006-01-02"

// Info is the externally visible state of one service's budget.
type Info struct {
	Service    string        `json:"service"`
	Used       int           `json:"used"`
	Limit      int           `json:"limit"`
	Available  int           `json:"available"`
	Percentage float64       `json:"percentage"`
	ResetIn    time.Duration `json:"reset_in"`
}

// Alert flags a service at or above its alert threshold.
type Alert struct {
	Service    string  `json:"service"`
	Percentage float64 `json:"percentage"`
	Threshold  float64 `json:"threshold"`
}

// Ledger enforces per-service daily budgets over an injected CounterStore.
type Ledger struct {
	mu     sync.Mutex
	store  CounterStore
	policy *Policy
	now    func() time.Time
}

// NewLedger creates a Ledger over the given store and policy.
func NewLedger(store CounterStore, policy *Policy) *Ledger {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Ledger{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// HasQuota reports whether at least one unit of today's budget remains.
func (l *Ledger) HasQuota(ctx context.Context, service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.currentLocked(ctx, service)
	if err != nil {
		zap.L().Warn("quota: counter load failed, denying", zap.String("service", service), zap.Error(err))
		return false
	}
	return c.Used < l.policy.DailyLimit(service)
}

// Consume takes n units from today's budget. It returns false and mutates
// nothing when the take would exceed the limit.
func (l *Ledger) Consume(ctx context.Context, service string, n int) bool {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.currentLocked(ctx, service)
	if err != nil {
		zap.L().Warn("quota: counter load failed, denying", zap.String("service", service), zap.Error(err))
		return false
	}
	limit := l.policy.DailyLimit(service)
	if c.Used+n > limit {
		return false
	}
	c.Used += n
	if err := l.store.SaveCounter(ctx, c); err != nil {
		zap.L().Error("quota: counter save failed", zap.String("service", service), zap.Error(err))
		return false
	}
	return true
}

// RecordOutcome tallies the success or failure of a quota-protected call
// into today's counter, feeding history error rates.
func (l *Ledger) RecordOutcome(ctx context.Context, service string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.currentLocked(ctx, service)
	if err != nil {
		zap.L().Warn("quota: counter load failed", zap.String("service", service), zap.Error(err))
		return
	}
	if success {
		c.Success++
	} else {
		c.Error++
	}
	if err := l.store.SaveCounter(ctx, c); err != nil {
		zap.L().Error("quota: counter save failed", zap.String("service", service), zap.Error(err))
	}
}

// Info returns the current budget view for a service.
func (l *Ledger) Info(ctx context.Context, service string) (Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.currentLocked(ctx, service)
	if err != nil {
		return Info{}, err
	}
	limit := l.policy.DailyLimit(service)
	now := l.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	pct := 0.0
	if limit > 0 {
		pct = float64(c.Used) / float64(limit)
	}
	return Info{
		Service:    service,
		Used:       c.Used,
		Limit:      limit,
		Available:  limit - c.Used,
		Percentage: pct,
		ResetIn:    midnight.Sub(now),
	}, nil
}

// SetAlertThreshold overrides the alert threshold for one service. The
// fraction must be in (0, 1].
func (l *Ledger) SetAlertThreshold(ctx context.Context, service string, frac float64) error {
	if frac <= 0 || frac > 1 {
		return errs.Validationf("quota: alert threshold must be in (0, 1], got %.2f", frac)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.currentLocked(ctx, service)
	if err != nil {
		return err
	}
	c.AlertThreshold = frac
	return eris.Wrap(l.store.SaveCounter(ctx, c), "quota: save threshold")
}

// AlertScan returns every tracked service at or above its alert threshold,
// with its current usage percentage. Upstream callers use it to gate
// optional enrichment stages and render warnings.
func (l *Ledger) AlertScan(ctx context.Context) ([]Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	services, err := l.store.Services(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quota: list services")
	}

	var alerts []Alert
	for _, service := range services {
		c, err := l.currentLocked(ctx, service)
		if err != nil {
			return nil, err
		}
		limit := l.policy.DailyLimit(service)
		if limit == 0 {
			continue
		}
		threshold := c.AlertThreshold
		if threshold == 0 {
			threshold = l.policy.Threshold(service)
		}
		pct := float64(c.Used) / float64(limit)
		if pct >= threshold {
			alerts = append(alerts, Alert{Service: service, Percentage: pct, Threshold: threshold})
		}
	}
	return alerts, nil
}

// History returns up to days (1-30) of trailing daily usage rows for a
// service, newest first.
func (l *Ledger) History(ctx context.Context, service string, days int) ([]HistoryEntry, error) {
	if days < 1 || days > 30 {
		return nil, errs.Validationf("quota: history window must be 1-30 days, got %d", days)
	}
	entries, err := l.store.History(ctx, service, days)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: history for %s", service)
	}
	return entries, nil
}

// ErrorRate computes the aggregate error rate over the trailing window.
func (l *Ledger) ErrorRate(ctx context.Context, service string, days int) (float64, error) {
	entries, err := l.History(ctx, service, days)
	if err != nil {
		return 0, err
	}
	total, failures := 0, 0
	for _, e := range entries {
		total += e.Success + e.Error
		failures += e.Error
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failures) / float64(total), nil
}

// currentLocked loads the service counter, applying the lazy daily reset:
// when the stored counter belongs to an earlier calendar day, its numbers
// are snapshotted into history and the counter starts fresh.
func (l *Ledger) currentLocked(ctx context.Context, service string) (Counter, error) {
	now := l.now().UTC()
	c, ok, err := l.store.Counter(ctx, service)
	if err != nil {
		return Counter{}, eris.Wrapf(err, "quota: load counter %s", service)
	}
	if !ok {
		c = Counter{Service: service, LastReset: now}
		if err := l.store.SaveCounter(ctx, c); err != nil {
			return Counter{}, eris.Wrapf(err, "quota: init counter %s", service)
		}
		return c, nil
	}

	if sameDay(c.LastReset, now) {
		return c, nil
	}

	// Day rollover: snapshot the closing day, then reset.
	snapshot := HistoryEntry{
		Service: service,
		Day:     c.LastReset.UTC().Format(dayFormat),
		Used:    c.Used,
		Success: c.Success,
		Error:   c.Error,
	}
	if err := l.store.AppendHistory(ctx, snapshot); err != nil {
		zap.L().Error("quota: history snapshot failed", zap.String("service", service), zap.Error(err))
	}

	c.Used = 0
	c.Success = 0
	c.Error = 0
	c.LastReset = now
	if err := l.store.SaveCounter(ctx, c); err != nil {
		return Counter{}, eris.Wrapf(err, "quota: reset counter %s", service)
	}
	zap.L().Debug("quota: daily reset", zap.String("service", service), zap.String("day", snapshot.Day))
	return c, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
