// Package verify probes a claimed website for liveness and name
// plausibility, producing a bounded confidence adjustment for the consensus
// aggregator's post-processing stage.
package verify

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Adjustment bounds applied to the website suggestion's confidence.
	maxBoost   = 0.15
	maxPenalty = -0.2

	liveBoost      = 0.10
	nameMatchBoost = 0.05
)

// Checker performs rate-limited HTTP probes against candidate websites.
type Checker struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewChecker creates a Checker. rps bounds outbound probe rate; probes past
// the burst wait rather than fail.
func NewChecker(timeout time.Duration, rps float64) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 2
	}
	return &Checker{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// WithClient swaps the HTTP client, for tests.
func (c *Checker) WithClient(client *http.Client) *Checker {
	c.client = client
	return c
}

// Check probes rawURL and returns a confidence adjustment in
// [maxPenalty, maxBoost]: positive when the site is live (more so when the
// host looks like the record's name), negative when it is dead.
func (c *Checker) Check(ctx context.Context, rawURL, recordName string) (float64, error) {
	u, err := normalizeURL(rawURL)
	if err != nil {
		return 0, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "verify: rate wait")
	}

	alive := c.probe(ctx, http.MethodHead, u)
	if !alive {
		// Some hosts reject HEAD outright.
		alive = c.probe(ctx, http.MethodGet, u)
	}
	if !alive {
		zap.L().Debug("verify: website dead", zap.String("url", u))
		return maxPenalty, nil
	}

	adj := liveBoost
	if hostMatchesName(u, recordName) {
		adj += nameMatchBoost
	}
	if adj > maxBoost {
		adj = maxBoost
	}
	return adj, nil
}

func (c *Checker) probe(ctx context.Context, method, u string) bool {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode < 400
}

func normalizeURL(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", eris.New("verify: empty url")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", eris.Errorf("verify: unparseable url %q", rawURL)
	}
	return u.String(), nil
}

// hostMatchesName checks whether a significant token of the record name
// appears in the host, e.g. "acme" in "www.acme.com".
func hostMatchesName(rawURL, name string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, token := range strings.Fields(strings.ToLower(name)) {
		token = strings.Trim(token, ".,&")
		if len(token) >= 4 && strings.Contains(host, token) {
			return true
		}
	}
	return false
}
