package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/stratasim/internal/compare"
	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/engine"
	"github.com/talgya/stratasim/internal/logging"
	"github.com/talgya/stratasim/internal/persistence"
	"github.com/talgya/stratasim/internal/social"
)

type fixture struct {
	srv  *httptest.Server
	runs []*engine.Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{}
	for i, steps := range []int{6, 4} {
		cfg := config.Default().WithSeed(int64(i + 1))
		cfg.Name = []string{"long", "short"}[i]
		cfg.PopulationSize = 12
		cfg.Steps = steps
		cfg.RecordAgents = true

		e, err := engine.New(cfg, engine.WithLogger(logging.Discard()))
		require.NoError(t, err)
		require.NoError(t, e.RunToCompletion(context.Background()))
		res := e.Result()
		require.NoError(t, store.SaveResult(context.Background(), res))
		f.runs = append(f.runs, res)
	}

	f.srv = httptest.NewServer(NewServer(store, 0, logging.Discard()).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	var runs []persistence.RunSummary
	resp := f.get(t, "/api/v1/runs", &runs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Len(t, runs, 2)

	var none []persistence.RunSummary
	f.get(t, "/api/v1/runs?state=failed", &none)
	assert.Empty(t, none)
}

func TestGetRun(t *testing.T) {
	f := newFixture(t)
	want := f.runs[0]

	var detail struct {
		RunID string            `json:"run_id"`
		Name  string            `json:"name"`
		Steps int               `json:"steps"`
		Final social.Aggregates `json:"final"`
	}
	resp := f.get(t, "/api/v1/runs/"+want.RunID, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, want.RunID, detail.RunID)
	assert.Equal(t, "long", detail.Name)
	assert.Equal(t, 6, detail.Steps)
	assert.Equal(t, want.Final().Aggregates.TotalWealth, detail.Final.TotalWealth)

	resp = f.get(t, "/api/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryWindow(t *testing.T) {
	f := newFixture(t)
	id := f.runs[0].RunID

	var hist []social.Snapshot
	resp := f.get(t, "/api/v1/runs/"+id+"/history?from=2&to=3", &hist)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Step)
	assert.Empty(t, hist[0].Agents)

	hist = nil
	f.get(t, "/api/v1/runs/"+id+"/history?from=6&agents=true", &hist)
	require.Len(t, hist, 1)
	assert.Len(t, hist[0].Agents, 12)

	resp = f.get(t, "/api/v1/runs/"+id+"/history?from=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.get(t, "/api/v1/runs/"+id+"/history?agents=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	id := f.runs[0].RunID

	var events []map[string]any
	resp := f.get(t, "/api/v1/runs/"+id+"/events?limit=3", &events)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.LessOrEqual(t, len(events), 3)

	resp = f.get(t, "/api/v1/runs/"+id+"/events?limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompare(t *testing.T) {
	f := newFixture(t)
	ids := f.runs[0].RunID + "," + f.runs[1].RunID

	var table compare.Table
	resp := f.get(t, "/api/v1/compare?runs="+ids+"&metrics=gini,mobility_rate", &table)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"gini", "mobility_rate"}, table.Metrics)
	assert.Len(t, table.Steps, 7)

	col, ok := table.Column(f.runs[1].RunID, "gini")
	require.True(t, ok)
	assert.NotNil(t, col.Values[4])
	assert.Nil(t, col.Values[5])
	assert.Nil(t, col.Values[6])

	resp = f.get(t, "/api/v1/compare?runs="+ids+"&metrics=charisma", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.get(t, "/api/v1/compare", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.get(t, "/api/v1/compare?runs=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCompareCSV(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/v1/compare?format=csv&metrics=gini&runs="+f.runs[0].RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 8)
	assert.Equal(t, "step,long:gini", lines[0])
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compare", nil)
	req.RemoteAddr = "192.0.2.7:5123"

	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i, hop := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/compare", nil)
		req.RemoteAddr = "192.0.2.7:5123"
		req.Header.Set("X-Forwarded-For", hop)
		rec := httptest.NewRecorder()
		h(rec, req)
		if i == 0 {
			assert.Equal(t, http.StatusOK, rec.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code, hop)
		}
	}
}

func TestClientIP(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5123"
	assert.Equal(t, "192.0.2.7", rl.clientIP(req))

	// Untrusted peers cannot name another client.
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "192.0.2.7", rl.clientIP(req))

	require.NoError(t, rl.TrustProxies("192.0.2.7", "10.0.0.0/8"))
	assert.Equal(t, "203.0.113.9", rl.clientIP(req))

	// The rightmost untrusted hop wins over anything the client prepended.
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", rl.clientIP(req))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.7", rl.clientIP(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "192.0.2.7", rl.clientIP(req))

	assert.Error(t, rl.TrustProxies("10.0.0.0/99"))
	assert.Error(t, rl.TrustProxies("proxy.local"))
}
