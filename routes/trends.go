package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aidenappl/monitor-trends/discover"
	"github.com/aidenappl/monitor-trends/env"
	"github.com/aidenappl/monitor-trends/metrics"
	"github.com/aidenappl/monitor-trends/middleware"
	"github.com/aidenappl/monitor-trends/responder"
	"github.com/aidenappl/monitor-trends/services"
	"github.com/aidenappl/monitor-trends/structs"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// TrendRunner computes trends for a resolved request
type TrendRunner interface {
	Run(ctx context.Context, req services.TrendRequest) (*structs.TrendResponse, error)
}

// Set by main
var (
	Trends   TrendRunner
	Projects services.ProjectLister
)

var validate = validator.New()

// trendsParams are the free-form query parameters of a trends request
type trendsParams struct {
	Fields         []string `validate:"max=20,dive,required,max=200"`
	Query          string   `validate:"max=1000"`
	TrendFunction  string   `validate:"required,max=100"`
	Sort           []string `validate:"max=5,dive,required,max=200"`
	Environments   []string `validate:"dive,required,max=64"`
	ReferenceEvent string   `validate:"omitempty,max=200,contains=:"`
}

// TrendsHandler handles GET /v1/organizations/{org}/events-trends
// Compares a trend function between the two halves of a time range for
// the top transactions
func TrendsHandler(w http.ResponseWriter, r *http.Request) {
	if !env.TrendsEnabled {
		responder.Error(w, http.StatusNotFound, "not found")
		return
	}

	q := r.URL.Query()
	params := trendsParams{
		Fields:         q["field"],
		Query:          q.Get("query"),
		TrendFunction:  q.Get("trendFunction"),
		Sort:           q["sort"],
		Environments:   q["environment"],
		ReferenceEvent: q.Get("referenceEvent"),
	}
	if params.TrendFunction == "" {
		params.TrendFunction = services.DefaultTrendFunction
	}
	label := trendLabel(params.TrendFunction)

	if err := validate.Struct(params); err != nil {
		metrics.TrendRequests.WithLabelValues(label, "invalid").Inc()
		responder.Error(w, http.StatusBadRequest, "invalid request parameters: "+err.Error())
		return
	}

	ratio := 0.5
	if s := q.Get("intervalRatio"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			metrics.TrendRequests.WithLabelValues(label, "invalid").Inc()
			responder.Error(w, http.StatusBadRequest, "invalid intervalRatio: "+s)
			return
		}
		ratio = v
	}

	var rollup time.Duration
	if s := q.Get("interval"); s != "" {
		v, err := discover.ParseRollup(s)
		if err != nil {
			metrics.TrendRequests.WithLabelValues(label, "invalid").Inc()
			responder.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		rollup = v
	}

	projectIDs, err := parseProjectIDs(q["project"])
	if err != nil {
		metrics.TrendRequests.WithLabelValues(label, "invalid").Inc()
		responder.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := services.ResolveFilterParams(r.Context(), Projects, services.FilterRequest{
		Organization: mux.Vars(r)["org"],
		ProjectIDs:   projectIDs,
		Environments: params.Environments,
		Start:        q.Get("start"),
		End:          q.Get("end"),
		StatsPeriod:  q.Get("statsPeriod"),
		GlobalViews:  middleware.HasCapability(r.Context(), middleware.CapabilityGlobalViews),
	})
	if errors.Is(err, services.ErrNoProjects) {
		metrics.TrendRequests.WithLabelValues(label, "empty").Inc()
		responder.New(w, []any{})
		return
	}
	if err != nil {
		writeTrendsError(w, label, err)
		return
	}

	result, err := Trends.Run(r.Context(), services.TrendRequest{
		Fields:         params.Fields,
		Query:          params.Query,
		TrendFunction:  params.TrendFunction,
		IntervalRatio:  ratio,
		OrderBy:        params.Sort,
		Rollup:         rollup,
		ReferenceEvent: params.ReferenceEvent,
		Params:         filter,
	})
	if err != nil {
		writeTrendsError(w, label, err)
		return
	}

	metrics.TrendRequests.WithLabelValues(label, "ok").Inc()
	responder.New(w, result)
}

func writeTrendsError(w http.ResponseWriter, label string, err error) {
	if services.IsClientError(err) {
		metrics.TrendRequests.WithLabelValues(label, "invalid").Inc()
		responder.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.TrendRequests.WithLabelValues(label, "error").Inc()
	responder.ErrorWithCause(w, http.StatusInternalServerError, "failed to execute trends query", err)
}

// trendLabel bounds the metric label to registered trend functions
func trendLabel(trendFunction string) string {
	parsed, err := services.ParseTrendFunction(trendFunction)
	if err != nil {
		return "invalid"
	}
	if _, err := services.LookupTrendFunction(parsed.Name); err != nil {
		return "unknown"
	}
	return parsed.Name
}

func parseProjectIDs(values []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid project id: %s", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
