package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_LiveSiteBoost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(time.Second, 100)
	adj, err := c.Check(context.Background(), srv.URL, "Acme Logistics")
	require.NoError(t, err)
	assert.InDelta(t, 0.10, adj, 0.001)
}

func TestCheck_DeadSitePenalty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewChecker(time.Second, 100)
	adj, err := c.Check(context.Background(), srv.URL, "Acme Logistics")
	require.NoError(t, err)
	assert.InDelta(t, -0.2, adj, 0.001)
}

func TestCheck_UnreachableHostPenalty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewChecker(200*time.Millisecond, 100)
	adj, err := c.Check(context.Background(), url, "Acme")
	require.NoError(t, err)
	assert.InDelta(t, -0.2, adj, 0.001)
}

func TestCheck_FallsBackToGET(t *testing.T) {
	var sawGet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sawGet = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(time.Second, 100)
	adj, err := c.Check(context.Background(), srv.URL, "Acme")
	require.NoError(t, err)
	assert.True(t, sawGet)
	assert.InDelta(t, 0.10, adj, 0.001)
}

func TestCheck_InvalidURL(t *testing.T) {
	c := NewChecker(time.Second, 100)
	_, err := c.Check(context.Background(), "   ", "Acme")
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	u, err := normalizeURL("acme.io")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.io", u)

	u, err = normalizeURL("http://acme.io/about")
	require.NoError(t, err)
	assert.Equal(t, "http://acme.io/about", u)
}

func TestHostMatchesName(t *testing.T) {
	tests := []struct {
		url  string
		name string
		want bool
	}{
		{"https://www.acme.com", "Acme Logistics", true},
		{"https://acmelogistics.io", "Acme Logistics", true},
		{"https://example.com", "Acme Logistics", false},
		{"https://ab.io", "AB & Co", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hostMatchesName(tt.url, tt.name), tt.url)
	}
}
