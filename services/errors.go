package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoProjects is returned when a request resolves to no accessible
// projects. Callers answer it with an empty result, not an error.
var ErrNoProjects = errors.New("no accessible projects")

// InvalidParamsError reports a malformed request parameter
type InvalidParamsError struct {
	Message string
}

func (e *InvalidParamsError) Error() string {
	return e.Message
}

// InvalidRangeError reports a time range or interval ratio that cannot be
// split into two non-empty windows
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
	Ratio float64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: cannot split [%s, %s] at ratio %v",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Ratio)
}

// UnknownTrendFunctionError reports a trendFunction with no registered spec
type UnknownTrendFunctionError struct {
	Name string
}

func (e *UnknownTrendFunctionError) Error() string {
	return fmt.Sprintf("unknown trend function: %s", e.Name)
}

// MultiProjectError is returned when a caller without global views asks
// for more than one project
type MultiProjectError struct{}

func (e *MultiProjectError) Error() string {
	return "You cannot view events from multiple projects."
}

// QueryError wraps any failure of the query engine. Only the engine's
// message is kept.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return "query failed: " + e.Message
}

// IsClientError reports whether err was caused by the request itself
func IsClientError(err error) bool {
	var (
		params   *InvalidParamsError
		rng      *InvalidRangeError
		unknown  *UnknownTrendFunctionError
		multiple *MultiProjectError
	)
	return errors.As(err, &params) ||
		errors.As(err, &rng) ||
		errors.As(err, &unknown) ||
		errors.As(err, &multiple)
}
