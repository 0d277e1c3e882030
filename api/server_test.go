package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pevans/flatwatch/discovery"
	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/scraper"
	"github.com/pevans/flatwatch/site"
	"github.com/pevans/flatwatch/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Test helper: create a server over two sites with an empty store and
// sqlite history
func setupTestServer(t *testing.T, withHistory bool) (*Server, *history.Store, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "listings"))
	require.NoError(t, err)

	var hist *history.Store
	if withHistory {
		hist, err = history.Open(history.DriverSQLite, filepath.Join(dir, "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { hist.Close() })
	}

	alpha := site.NewSiteConfig("alpha", "https://alpha.example.com/")
	alpha.DisplayName = "Alpha Flats"
	alpha.Markers = []site.MarkerConfig{{Name: "balcony"}}
	beta := site.NewSiteConfig("beta", "https://beta.example.com/")
	beta.Enabled = false

	svc := discovery.New(discovery.Options{
		Sites:   []*site.SiteConfig{alpha, beta},
		Scraper: scraper.New(scraper.NewHTTPFetcher(""), nil),
		Store:   st,
		History: hist,
	})

	return NewServer(svc, st, hist, nil), hist, st
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// TestHandleHealth verifies the health endpoint before any run
func TestHandleHealth(t *testing.T) {
	server, _, _ := setupTestServer(t, true)
	router := server.SetupRouter()

	w := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "last_run")
}

// TestCORS verifies preflight requests are answered by the middleware
func TestCORS(t *testing.T) {
	server, _, _ := setupTestServer(t, false)
	router := server.SetupRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sites", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestHandleListRuns verifies runs are returned newest first
func TestHandleListRuns(t *testing.T) {
	server, hist, _ := setupTestServer(t, true)
	router := server.SetupRouter()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		run := history.Run{ID: uuid.New(), StartedAt: base.Add(time.Duration(i) * time.Hour)}
		run.FinishedAt = run.StartedAt.Add(time.Second)
		ids = append(ids, run.ID)
		require.NoError(t, hist.RecordRun(ctx, run, nil))
	}

	w := get(t, router, "/api/v1/runs?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Runs []history.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, ids[2], body.Runs[0].ID)
	assert.Equal(t, ids[1], body.Runs[1].ID)
}

// TestHandleListRuns_Empty verifies an empty list rather than null
func TestHandleListRuns_Empty(t *testing.T) {
	server, _, _ := setupTestServer(t, true)

	w := get(t, server.SetupRouter(), "/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[]}`, w.Body.String())
}

// TestHandleListRuns_Errors verifies bad limits and disabled history
func TestHandleListRuns_Errors(t *testing.T) {
	server, _, _ := setupTestServer(t, true)
	router := server.SetupRouter()

	for _, limit := range []string{"0", "-1", "abc", "1000"} {
		w := get(t, router, "/api/v1/runs?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
		body := decode(t, w)
		assert.Equal(t, "bad_request", body["error"].(map[string]any)["code"])
	}

	noHistory, _, _ := setupTestServer(t, false)
	w := get(t, noHistory.SetupRouter(), "/api/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestHandleListSites verifies configuration, status and store stats are
// combined
func TestHandleListSites(t *testing.T) {
	server, hist, st := setupTestServer(t, true)
	router := server.SetupRouter()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	ns, err := st.Site("alpha")
	require.NoError(t, err)
	l := listing.New("alpha", "https://alpha.example.com/flat/1")
	l.Title = "Altbau"
	ns.RecordAll([]listing.Listing{l}, now)
	require.NoError(t, ns.Flush(now))

	run := history.Run{ID: uuid.New(), StartedAt: now, FinishedAt: now}
	require.NoError(t, hist.RecordRun(ctx, run, []history.SiteOutcome{
		{Site: "alpha", Found: 1, New: 1},
		{Site: "beta", Err: errors.New("HTTP 503")},
	}))

	w := get(t, router, "/api/v1/sites")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sites []siteView `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sites, 2)

	alpha := body.Sites[0]
	assert.Equal(t, "alpha", alpha.Name)
	assert.Equal(t, "Alpha Flats", alpha.DisplayName)
	assert.True(t, alpha.Enabled)
	assert.Equal(t, []string{"balcony"}, alpha.Markers)
	assert.Equal(t, "healthy", alpha.Health)
	require.NotNil(t, alpha.Listings)
	assert.Equal(t, 1, alpha.Listings.Active)

	beta := body.Sites[1]
	assert.False(t, beta.Enabled)
	assert.Equal(t, "failed", beta.Health)
	require.NotNil(t, beta.Status)
	assert.Equal(t, 1, beta.Status.FetchErrorCount)
}

// TestHandleGetSite verifies lookup by name and the not-found error
func TestHandleGetSite(t *testing.T) {
	server, _, _ := setupTestServer(t, false)
	router := server.SetupRouter()

	w := get(t, router, "/api/v1/sites/alpha")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alpha", body["name"])
	assert.NotContains(t, body, "status", "no history configured")

	w = get(t, router, "/api/v1/sites/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body = decode(t, w)
	assert.Equal(t, "not_found", body["error"].(map[string]any)["code"])
}
