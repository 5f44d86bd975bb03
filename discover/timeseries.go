package discover

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aidenappl/monitor-trends/structs"
)

// MaxTimeSeriesPoints is the maximum number of buckets allowed in a series
const MaxTimeSeriesPoints = 10000

var rollupRegex = regexp.MustCompile(`^(\d+)([smhdw])$`)

// TimeseriesRequest asks for one series per top event
type TimeseriesRequest struct {
	// SelectedColumns are the columns of the top events query; its
	// non-aggregate fields identify each series
	SelectedColumns []string
	// TimeseriesColumn is the aggregate computed per bucket, e.g. p50()
	TimeseriesColumn string
	Query            string
	Params           structs.FilterParams
	Rollup           time.Duration
	Limit            int
	TopEvents        *structs.EventsResult
	Referrer         string
}

// ParseRollup parses bucket sizes such as 30s, 5m, 1h, 1d, and 1w
func ParseRollup(s string) (time.Duration, error) {
	m := rollupRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, invalidf("invalid interval: %s", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, invalidf("invalid interval: %s", s)
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

// DefaultRollup picks a bucket size from the length of the range
func DefaultRollup(start, end time.Time) time.Duration {
	switch d := end.Sub(start); {
	case d >= 30*24*time.Hour:
		return 4 * time.Hour
	case d >= 14*24*time.Hour:
		return time.Hour
	case d >= 24*time.Hour:
		return 30 * time.Minute
	default:
		return time.Minute
	}
}

// ValidateRollup checks that rollup is a whole number of seconds and that
// [start, end) splits into at most MaxTimeSeriesPoints buckets
func ValidateRollup(start, end time.Time, rollup time.Duration) error {
	if rollup < time.Second || rollup%time.Second != 0 {
		return invalidf("interval must be a whole number of seconds")
	}
	if n := int(end.Sub(start) / rollup); n > MaxTimeSeriesPoints {
		return invalidf("query would return too many data points (estimated %d, max %d); use a larger interval or smaller time range", n, MaxTimeSeriesPoints)
	}
	return nil
}

// TopEventsTimeseries computes TimeseriesColumn per rollup bucket for each
// of the top events, keyed by the events' joined field values
func (e *Engine) TopEventsTimeseries(ctx context.Context, req TimeseriesRequest) (map[string]structs.TimeSeries, error) {
	if err := ValidateRollup(req.Params.Start, req.Params.End, req.Rollup); err != nil {
		return nil, err
	}

	valueCol, err := ResolveColumn(req.TimeseriesColumn)
	if err != nil {
		return nil, err
	}
	if !valueCol.Aggregate || len(valueCol.refs) > 0 {
		return nil, invalidf("%s cannot be charted", req.TimeseriesColumn)
	}

	selected, err := resolveColumns(req.SelectedColumns, false)
	if err != nil {
		return nil, err
	}
	var keys []Column
	for _, c := range selected {
		if !c.Aggregate {
			keys = append(keys, c)
		}
	}
	if len(keys) == 0 {
		return nil, invalidf("top events require at least one non-aggregate field")
	}

	top := []structs.Row{}
	if req.TopEvents != nil {
		top = req.TopEvents.Data
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	result := make(map[string]structs.TimeSeries, len(top))
	if len(top) == 0 {
		return result, nil
	}

	filters, err := parseSearch(req.Query)
	if err != nil {
		return nil, err
	}
	// search terms on the top events' aggregates only filter the top events
	known := append([]Column{}, selected...)
	for alias, typ := range req.TopEvents.Meta {
		if _, ok := fields[alias]; !ok {
			known = append(known, Column{Name: alias, Alias: alias, Type: typ, Aggregate: true})
		}
	}
	where, _, err := buildConditions(filters, known, false)
	if err != nil {
		return nil, err
	}

	secs := int64(req.Rollup / time.Second)
	builder := sq.Select().From(e.table).PlaceholderFormat(sq.Question).
		Column(fmt.Sprintf("toStartOfInterval(timestamp, INTERVAL %d SECOND) AS bucket", secs)).
		Column(sq.Alias(sq.Expr(valueCol.Expr, valueCol.Args...), "value"))
	groupBy := []string{"bucket"}
	for _, c := range keys {
		builder = builder.Column(sq.Alias(sq.Expr(c.Expr), quoteIdent(c.Alias)))
		groupBy = append(groupBy, c.Expr)
	}
	for _, cond := range scopeConditions(req.Params) {
		builder = builder.Where(cond)
	}
	for _, cond := range where {
		builder = builder.Where(cond)
	}
	for _, c := range keys {
		builder = builder.Where(sq.Eq{c.Expr: distinctValues(top, c.Alias)})
	}
	builder = builder.GroupBy(groupBy...).OrderBy("bucket ASC")

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build timeseries query: %w", err)
	}
	rows, err := e.run(ctx, req.Referrer, query, args)
	if err != nil {
		return nil, err
	}

	order := make(map[string]int, len(top))
	for i, row := range top {
		key := seriesKey(row, keys)
		if _, ok := order[key]; !ok {
			order[key] = i
		}
	}

	points := make(map[string]map[int64]*float64, len(order))
	for _, row := range rows {
		key := seriesKey(row, keys)
		if _, ok := order[key]; !ok {
			continue
		}
		bucket, ok := row["bucket"].(time.Time)
		if !ok {
			return nil, fmt.Errorf("unexpected bucket value %T", row["bucket"])
		}
		if points[key] == nil {
			points[key] = make(map[int64]*float64)
		}
		points[key][bucket.Unix()] = toFloat(row["value"])
	}

	for key, idx := range order {
		result[key] = structs.TimeSeries{
			Data:  fillZeros(points[key], req.Params.Start, req.Params.End, req.Rollup),
			Order: idx,
		}
	}
	return result, nil
}

func seriesKey(row structs.Row, keys []Column) string {
	parts := make([]string, len(keys))
	for i, c := range keys {
		if v := row[c.Alias]; v != nil {
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ",")
}

func distinctValues(rows []structs.Row, alias string) []any {
	seen := make(map[any]bool)
	var values []any
	for _, row := range rows {
		v := row[alias]
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	return values
}

// fillZeros emits one point per bucket in [from, to), using zero for
// buckets the engine returned nothing for
func fillZeros(existing map[int64]*float64, from, to time.Time, rollup time.Duration) []structs.DataPoint {
	secs := int64(rollup / time.Second)
	var result []structs.DataPoint
	for ts := from.Unix() / secs * secs; ts < to.Unix(); ts += secs {
		value, ok := existing[ts]
		if !ok {
			zero := 0.0
			value = &zero
		}
		result = append(result, structs.DataPoint{
			Timestamp: time.Unix(ts, 0).UTC(),
			Value:     value,
		})
	}
	return result
}

// toFloat converts a numeric cell to a float, returning nil for NULL and
// non-finite values
func toFloat(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case int:
		f = float64(n)
	case uint64:
		f = float64(n)
	case uint32:
		f = float64(n)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
