package services

import (
	"context"
	"errors"
	"time"

	"github.com/aidenappl/monitor-trends/discover"
	"github.com/aidenappl/monitor-trends/logging"
	"github.com/aidenappl/monitor-trends/structs"
)

// TopEventsLimit is the number of transactions compared per request, for
// both the aggregate and the time-series query
const TopEventsLimit = 5

const (
	referrerPercentageChange = "api.trends.get-percentage-change"
	referrerEventStats       = "api.trends.get-event-stats"
)

// TrendRequest is a parsed trends request. Params must already be resolved.
type TrendRequest struct {
	Fields         []string
	Query          string
	TrendFunction  string
	IntervalRatio  float64
	OrderBy        []string
	Rollup         time.Duration
	ReferenceEvent string
	Params         structs.FilterParams
}

// TrendService compares a trend function across two windows of a range
type TrendService struct {
	engine Engine
}

// NewTrendService creates a trend service backed by engine
func NewTrendService(engine Engine) *TrendService {
	return &TrendService{engine: engine}
}

// Run finds the top transactions by the requested ordering of the derived
// comparison columns, then charts the trend function for exactly those
// transactions
func (s *TrendService) Run(ctx context.Context, req TrendRequest) (*structs.TrendResponse, error) {
	trendFunction := req.TrendFunction
	if trendFunction == "" {
		trendFunction = DefaultTrendFunction
	}

	parsed, err := ParseTrendFunction(trendFunction)
	if err != nil {
		return nil, err
	}
	spec, err := LookupTrendFunction(parsed.Name)
	if err != nil {
		return nil, err
	}
	window, err := SplitWindow(TimeRange{Start: req.Params.Start, End: req.Params.End}, req.IntervalRatio)
	if err != nil {
		return nil, err
	}
	exprs, err := BuildTrendExpressions(spec, parsed.Args, window)
	if err != nil {
		return nil, err
	}

	rollup := req.Rollup
	if rollup == 0 {
		rollup = discover.DefaultRollup(req.Params.Start, req.Params.End)
	}
	if err := discover.ValidateRollup(req.Params.Start, req.Params.End, rollup); err != nil {
		return nil, queryError(err)
	}

	selected := make([]string, 0, len(req.Fields)+7)
	selected = append(selected, req.Fields...)
	selected = append(selected, exprs.Columns()...)

	events, err := s.engine.Query(ctx, discover.QueryRequest{
		SelectedColumns:        selected,
		Query:                  req.Query,
		Params:                 req.Params,
		OrderBy:                req.OrderBy,
		Limit:                  TopEventsLimit,
		ReferenceEvent:         req.ReferenceEvent,
		AutoFields:             true,
		UseAggregateConditions: true,
		Referrer:               referrerPercentageChange,
	})
	if err != nil {
		return nil, queryError(err)
	}

	stats, err := s.engine.TopEventsTimeseries(ctx, discover.TimeseriesRequest{
		SelectedColumns:  req.Fields,
		TimeseriesColumn: trendFunction,
		Query:            req.Query,
		Params:           req.Params,
		Rollup:           rollup,
		Limit:            TopEventsLimit,
		TopEvents:        events,
		Referrer:         referrerEventStats,
	})
	if err != nil {
		return nil, queryError(err)
	}

	events.Data = SanitizeRows(events.Data)

	logging.Ctx(ctx).Debug().
		Str("trend_function", trendFunction).
		Str("middle", window.Middle).
		Int("events", len(events.Data)).
		Int("series", len(stats)).
		Msg("trends computed")

	return &structs.TrendResponse{
		Events: events,
		Stats:  stats,
	}, nil
}

// queryError is the single boundary between engine failures and callers.
// Rejected columns or searches stay client errors; everything else becomes
// a QueryError carrying only the engine's message.
func queryError(err error) error {
	var invalid *discover.InvalidQueryError
	if errors.As(err, &invalid) {
		return &InvalidParamsError{Message: invalid.Message}
	}
	return &QueryError{Message: err.Error()}
}
