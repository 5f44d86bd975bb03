package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aidenappl/monitor-trends/discover"
	"github.com/aidenappl/monitor-trends/structs"
)

// MaxQueryDuration is the maximum time range allowed for queries (90 days)
const MaxQueryDuration = 90 * 24 * time.Hour

// DefaultStatsPeriod is used when a request has neither a range nor a period
const DefaultStatsPeriod = "14d"

// ProjectLister lists the projects an organization can query
type ProjectLister interface {
	ListProjects(ctx context.Context, organization string) ([]uint64, error)
}

// FilterRequest holds the raw scope parameters of a request
type FilterRequest struct {
	Organization string
	ProjectIDs   []uint64
	Environments []string
	Start        string
	End          string
	StatsPeriod  string
	GlobalViews  bool
	Now          time.Time
}

// ResolveFilterParams resolves the projects and time range a request may
// read. Requested projects outside the organization are dropped.
func ResolveFilterParams(ctx context.Context, lister ProjectLister, req FilterRequest) (structs.FilterParams, error) {
	accessible, err := lister.ListProjects(ctx, req.Organization)
	if err != nil {
		return structs.FilterParams{}, &QueryError{Message: err.Error()}
	}

	projects := accessible
	if len(req.ProjectIDs) > 0 {
		projects = nil
		for _, id := range req.ProjectIDs {
			if slices.Contains(accessible, id) && !slices.Contains(projects, id) {
				projects = append(projects, id)
			}
		}
	}
	if len(projects) == 0 {
		return structs.FilterParams{}, ErrNoProjects
	}
	if !req.GlobalViews && len(projects) > 1 {
		return structs.FilterParams{}, &MultiProjectError{}
	}

	start, end, err := resolveRange(req)
	if err != nil {
		return structs.FilterParams{}, err
	}

	return structs.FilterParams{
		ProjectIDs:   projects,
		Environments: req.Environments,
		Start:        start,
		End:          end,
	}, nil
}

func resolveRange(req FilterRequest) (time.Time, time.Time, error) {
	if req.Start != "" || req.End != "" {
		if req.Start == "" || req.End == "" {
			return time.Time{}, time.Time{}, &InvalidParamsError{Message: "start and end must be provided together"}
		}
		start, err := parseTime(req.Start)
		if err != nil {
			return time.Time{}, time.Time{}, &InvalidParamsError{Message: fmt.Sprintf("invalid start: %s", req.Start)}
		}
		end, err := parseTime(req.End)
		if err != nil {
			return time.Time{}, time.Time{}, &InvalidParamsError{Message: fmt.Sprintf("invalid end: %s", req.End)}
		}
		if !start.Before(end) {
			return time.Time{}, time.Time{}, &InvalidRangeError{Start: start, End: end}
		}
		if end.Sub(start) > MaxQueryDuration {
			return time.Time{}, time.Time{}, &InvalidParamsError{Message: fmt.Sprintf("time range too large (max %v)", MaxQueryDuration)}
		}
		return start, end, nil
	}

	period := req.StatsPeriod
	if period == "" {
		period = DefaultStatsPeriod
	}
	d, err := discover.ParseRollup(period)
	if err != nil {
		return time.Time{}, time.Time{}, &InvalidParamsError{Message: fmt.Sprintf("invalid statsPeriod: %s", period)}
	}
	if d > MaxQueryDuration {
		return time.Time{}, time.Time{}, &InvalidParamsError{Message: fmt.Sprintf("time range too large (max %v)", MaxQueryDuration)}
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	end := now.UTC()
	start, end := quantizeRange(end.Add(-d), end)
	return start, end, nil
}

// quantizeRange rounds relative ranges longer than an hour down to the
// minute, or to 15 minutes for ranges of 30 days or more
func quantizeRange(start, end time.Time) (time.Time, time.Time) {
	d := end.Sub(start)
	if d <= time.Hour {
		return start, end
	}
	roundTo := time.Minute
	if d >= 30*24*time.Hour {
		roundTo = 15 * time.Minute
	}
	return start.Truncate(roundTo), end.Truncate(roundTo)
}

// parseTime accepts RFC3339, a UTC date argument, or unix seconds
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(discover.DateFormat, s, time.UTC); err == nil {
		return t, nil
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}
