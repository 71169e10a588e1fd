// Package lookup holds quota-gated post-enrichment stages.
package lookup

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/consensus"
	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/provider"
)

// Resolver is the slice of net.Resolver the MX check needs.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// EmailMX filters suggested email addresses down to those whose domain
// publishes an MX record, nudging the suggestion's confidence by the
// outcome. One enrichment draws one unit of the dns_mx budget regardless
// of how many addresses it checks.
type EmailMX struct {
	resolver Resolver
}

// NewEmailMX creates the stage over the system resolver.
func NewEmailMX() *EmailMX {
	return &EmailMX{resolver: net.DefaultResolver}
}

// WithResolver swaps the DNS resolver, for tests.
func (l *EmailMX) WithResolver(r Resolver) *EmailMX {
	l.resolver = r
	return l
}

func (l *EmailMX) Name() string    { return "email_mx" }
func (l *EmailMX) Service() string { return "dns_mx" }

// Augment checks the domain of every suggested email. Addresses with no
// MX-bearing domain are dropped; a resolver failure for a single domain
// keeps the address (absence of proof is not proof of absence). If every
// address is dropped the whole suggestion is withdrawn.
func (l *EmailMX) Augment(ctx context.Context, _ provider.Profile, r *consensus.Result) error {
	s, ok := r.Suggestions[model.FieldEmails]
	if !ok {
		return nil
	}
	addrs, ok := s.Value.([]string)
	if !ok || len(addrs) == 0 {
		return nil
	}

	domains := make(map[string]bool)
	var kept []string
	dropped := 0
	for _, addr := range addrs {
		domain := domainOf(addr)
		if domain == "" {
			dropped++
			continue
		}
		deliverable, checked := domains[domain]
		if !checked {
			mx, err := l.resolver.LookupMX(ctx, domain)
			if err != nil {
				var dnsErr *net.DNSError
				if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
					deliverable = false
				} else {
					// Transient resolver trouble, keep the address.
					zap.L().Debug("lookup: mx query failed", zap.String("domain", domain), zap.Error(err))
					deliverable = true
				}
			} else {
				deliverable = len(mx) > 0
			}
			domains[domain] = deliverable
		}
		if deliverable {
			kept = append(kept, addr)
		} else {
			dropped++
		}
	}

	if dropped == 0 {
		return nil
	}
	if len(kept) == 0 {
		delete(r.Suggestions, model.FieldEmails)
		r.Skips = append(r.Skips, model.Skip{
			Stage:   l.Name(),
			Service: l.Service(),
			Reason:  "no suggested email domain accepts mail",
		})
		return nil
	}
	s.Value = kept
	s.Confidence = s.Confidence * float64(len(kept)) / float64(len(kept)+dropped)
	r.Suggestions[model.FieldEmails] = s
	return nil
}

func domainOf(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 1 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}
