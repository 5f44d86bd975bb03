package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/aidenappl/monitor-trends/discover"
	"github.com/aidenappl/monitor-trends/env"
	"github.com/aidenappl/monitor-trends/services"
	"github.com/aidenappl/monitor-trends/structs"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	reqs []services.TrendRequest
	resp *structs.TrendResponse
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req services.TrendRequest) (*structs.TrendResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type fakeProjects struct {
	ids []uint64
}

func (f *fakeProjects) ListProjects(context.Context, string) ([]uint64, error) {
	return f.ids, nil
}

func setup(t *testing.T, projects []uint64) (*mux.Router, *fakeRunner) {
	t.Helper()

	origTrends, origProjects := Trends, Projects
	origKey, origEnabled, origGlobal := env.APIKey, env.TrendsEnabled, env.GlobalViews
	t.Cleanup(func() {
		Trends, Projects = origTrends, origProjects
		env.APIKey, env.TrendsEnabled, env.GlobalViews = origKey, origEnabled, origGlobal
	})

	runner := &fakeRunner{resp: &structs.TrendResponse{
		Events: &structs.EventsResult{
			Data: []structs.Row{{"transaction": "/api/users", "percentile_range_1": 100.0}},
			Meta: map[string]string{"transaction": "string", "percentile_range_1": "duration"},
		},
		Stats: map[string]structs.TimeSeries{},
	}}
	Trends = runner
	Projects = &fakeProjects{ids: projects}
	env.APIKey, env.TrendsEnabled, env.GlobalViews = "", true, false

	r := mux.NewRouter()
	Register(r)
	return r, runner
}

func get(r http.Handler, params url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/organizations/acme/events-trends?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTrendsHandler(t *testing.T) {
	r, runner := setup(t, []uint64{1})

	rec := get(r, url.Values{
		"field":          {"transaction", "project"},
		"query":          {"environment:production"},
		"trendFunction":  {"user_misery(300)"},
		"intervalRatio":  {"0.25"},
		"sort":           {"-divide_user_misery_range_2_user_misery_range_1"},
		"interval":       {"1h"},
		"project":        {"1"},
		"environment":    {"production"},
		"start":          {"2021-01-01T00:00:00Z"},
		"end":            {"2021-01-02T00:00:00Z"},
		"referenceEvent": {"backend:abc123"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, runner.reqs, 1)
	req := runner.reqs[0]
	assert.Equal(t, []string{"transaction", "project"}, req.Fields)
	assert.Equal(t, "environment:production", req.Query)
	assert.Equal(t, "user_misery(300)", req.TrendFunction)
	assert.Equal(t, 0.25, req.IntervalRatio)
	assert.Equal(t, []string{"-divide_user_misery_range_2_user_misery_range_1"}, req.OrderBy)
	assert.Equal(t, time.Hour, req.Rollup)
	assert.Equal(t, "backend:abc123", req.ReferenceEvent)
	assert.Equal(t, []uint64{1}, req.Params.ProjectIDs)
	assert.Equal(t, []string{"production"}, req.Params.Environments)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), req.Params.Start)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "events")
	assert.Contains(t, body, "stats")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestTrendsHandlerDefaults(t *testing.T) {
	r, runner := setup(t, []uint64{1})

	rec := get(r, url.Values{"field": {"transaction"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.DefaultTrendFunction, runner.reqs[0].TrendFunction)
	assert.Equal(t, 0.5, runner.reqs[0].IntervalRatio)
	assert.Zero(t, runner.reqs[0].Rollup)
}

func TestTrendsHandlerNoProjects(t *testing.T) {
	r, runner := setup(t, nil)

	rec := get(r, url.Values{"field": {"transaction"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Empty(t, runner.reqs)
}

func TestTrendsHandlerMultipleProjects(t *testing.T) {
	t.Run("rejected without global views", func(t *testing.T) {
		r, runner := setup(t, []uint64{1, 2})
		rec := get(r, url.Values{"field": {"transaction"}, "project": {"1", "2"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error": "You cannot view events from multiple projects."}`, rec.Body.String())
		assert.Empty(t, runner.reqs)
	})

	t.Run("allowed with global views", func(t *testing.T) {
		r, runner := setup(t, []uint64{1, 2})
		env.GlobalViews = true
		rec := get(r, url.Values{"field": {"transaction"}, "project": {"1", "2"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, runner.reqs, 1)
		assert.Equal(t, []uint64{1, 2}, runner.reqs[0].Params.ProjectIDs)
	})
}

func TestTrendsHandlerBadRequests(t *testing.T) {
	tooMany := make([]string, 21)
	for i := range tooMany {
		tooMany[i] = "transaction"
	}

	tests := []struct {
		name   string
		params url.Values
	}{
		{name: "non-numeric interval ratio", params: url.Values{"intervalRatio": {"half"}}},
		{name: "invalid interval", params: url.Values{"interval": {"soon"}}},
		{name: "invalid project id", params: url.Values{"project": {"web"}}},
		{name: "too many fields", params: url.Values{"field": tooMany}},
		{name: "malformed reference event", params: url.Values{"referenceEvent": {"abc"}}},
		{name: "invalid stats period", params: url.Values{"statsPeriod": {"forever"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, runner := setup(t, []uint64{1})
			rec := get(r, tt.params)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, runner.reqs)
		})
	}
}

type countingEngine struct {
	calls int
}

func (c *countingEngine) Query(context.Context, discover.QueryRequest) (*structs.EventsResult, error) {
	c.calls++
	return &structs.EventsResult{Data: []structs.Row{}, Meta: map[string]string{}}, nil
}

func (c *countingEngine) TopEventsTimeseries(context.Context, discover.TimeseriesRequest) (map[string]structs.TimeSeries, error) {
	c.calls++
	return map[string]structs.TimeSeries{}, nil
}

func TestTrendsHandlerIntervalRatioOutOfRange(t *testing.T) {
	r, _ := setup(t, []uint64{1})
	engine := &countingEngine{}
	Trends = services.NewTrendService(engine)

	for _, ratio := range []string{"1.5", "0", "-0.25", "NaN"} {
		t.Run(ratio, func(t *testing.T) {
			rec := get(r, url.Values{"field": {"transaction"}, "intervalRatio": {ratio}})
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), "invalid range")
		})
	}
	assert.Zero(t, engine.calls)

	rec := get(r, url.Values{"field": {"transaction"}, "intervalRatio": {"0.75"}})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, engine.calls)
}

func TestTrendsHandlerErrors(t *testing.T) {
	t.Run("unknown trend function", func(t *testing.T) {
		r, runner := setup(t, []uint64{1})
		runner.err = &services.UnknownTrendFunctionError{Name: "p99"}
		rec := get(r, url.Values{"trendFunction": {"p99()"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error": "unknown trend function: p99"}`, rec.Body.String())
	})

	t.Run("engine failure", func(t *testing.T) {
		r, runner := setup(t, []uint64{1})
		runner.err = &services.QueryError{Message: "code: 241, memory limit exceeded"}
		rec := get(r, url.Values{"field": {"transaction"}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{
			"error": "failed to execute trends query",
			"detail": "query failed: code: 241, memory limit exceeded"
		}`, rec.Body.String())
	})

	t.Run("unexpected error", func(t *testing.T) {
		r, runner := setup(t, []uint64{1})
		runner.err = errors.New("boom")
		rec := get(r, url.Values{"field": {"transaction"}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestTrendsHandlerDisabled(t *testing.T) {
	r, runner := setup(t, []uint64{1})
	env.TrendsEnabled = false

	rec := get(r, url.Values{"field": {"transaction"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, runner.reqs)
}

func TestTrendsHandlerRequiresAPIKey(t *testing.T) {
	r, runner := setup(t, []uint64{1})
	env.APIKey = "secret"

	rec := get(r, url.Values{"field": {"transaction"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.reqs)

	req := httptest.NewRequest(http.MethodGet, "/v1/organizations/acme/events-trends?field=transaction", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandlerWithoutDatabase(t *testing.T) {
	r, _ := setup(t, []uint64{1})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
