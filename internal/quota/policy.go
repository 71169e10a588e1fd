package quota

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// daysPerMonth spreads a monthly allowance into a flat daily share.
const daysPerMonth = 30

// Policy configures per-service daily budgets and alert thresholds.
type Policy struct {
	// DefaultMonthly is the shared monthly allowance applied to services
	// without an explicit entry.
	DefaultMonthly int `yaml:"default_monthly"`
	// AlertThreshold is the default usage fraction that triggers alerts.
	AlertThreshold float64                  `yaml:"alert_threshold"`
	Services       map[string]ServicePolicy `yaml:"services"`
}

// ServicePolicy overrides budget settings for one external service.
type ServicePolicy struct {
	Monthly        int     `yaml:"monthly"`
	DailyOverride  int     `yaml:"daily_override"`
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// LoadPolicy reads a quota policy from a YAML file with a top-level
// "quota" key.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: read policy %s", path)
	}

	var wrapper struct {
		Quota Policy `yaml:"quota"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "quota: parse policy")
	}

	p := wrapper.Quota
	if p.AlertThreshold <= 0 {
		p.AlertThreshold = 0.8
	}
	return &p, nil
}

// DefaultPolicy returns a policy with a conservative shared allowance.
func DefaultPolicy() *Policy {
	return &Policy{
		DefaultMonthly: 3000,
		AlertThreshold: 0.8,
	}
}

// DailyLimit returns the per-service daily budget: an explicit daily
// override when present, otherwise the service's (or default) monthly
// allowance spread over 30 days.
func (p *Policy) DailyLimit(service string) int {
	sp, ok := p.Services[service]
	if ok && sp.DailyOverride > 0 {
		return sp.DailyOverride
	}
	monthly := p.DefaultMonthly
	if ok && sp.Monthly > 0 {
		monthly = sp.Monthly
	}
	limit := monthly / daysPerMonth
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Threshold returns the alert threshold for a service as a fraction in (0, 1].
func (p *Policy) Threshold(service string) float64 {
	if sp, ok := p.Services[service]; ok && sp.AlertThreshold > 0 {
		return sp.AlertThreshold
	}
	return p.AlertThreshold
}
