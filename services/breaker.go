package services

import (
	"context"
	"errors"
	"time"

	"github.com/aidenappl/monitor-trends/discover"
	"github.com/aidenappl/monitor-trends/logging"
	"github.com/aidenappl/monitor-trends/metrics"
	"github.com/aidenappl/monitor-trends/structs"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Engine is the analytics query engine trends are computed with
type Engine interface {
	Query(ctx context.Context, req discover.QueryRequest) (*structs.EventsResult, error)
	TopEventsTimeseries(ctx context.Context, req discover.TimeseriesRequest) (map[string]structs.TimeSeries, error)
}

// BreakerEngine stops calling the engine after repeated failures.
// Rejected queries and cancelled requests do not count as failures.
type BreakerEngine struct {
	next Engine
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerEngine wraps next. The circuit opens when at least 60% of 10 or
// more requests within a minute fail, and probes again after timeout.
func NewBreakerEngine(next Engine, name string, timeout time.Duration) *BreakerEngine {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			var invalid *discover.InvalidQueryError
			return err == nil || errors.As(err, &invalid) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerEngine{next: next, cb: cb}
}

func (b *BreakerEngine) Query(ctx context.Context, req discover.QueryRequest) (*structs.EventsResult, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.Query(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*structs.EventsResult), nil
}

func (b *BreakerEngine) TopEventsTimeseries(ctx context.Context, req discover.TimeseriesRequest) (map[string]structs.TimeSeries, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.TopEventsTimeseries(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]structs.TimeSeries), nil
}

// State returns the current breaker state
func (b *BreakerEngine) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
