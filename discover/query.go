// Package discover translates discover-style column expressions and search
// queries into ClickHouse SQL and runs them against the transactions table.
package discover

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aidenappl/monitor-trends/logging"
	"github.com/aidenappl/monitor-trends/metrics"
	"github.com/aidenappl/monitor-trends/structs"
)

// Executor runs a SELECT and returns its rows keyed by column name
type Executor interface {
	Select(ctx context.Context, query string, args ...any) ([]structs.Row, error)
}

// QueryRequest describes an aggregate or raw events query
type QueryRequest struct {
	SelectedColumns []string
	Query           string
	Params          structs.FilterParams
	OrderBy         []string
	Limit           int
	Offset          int
	// ReferenceEvent is "<project>:<event_id>"; rows are restricted to those
	// sharing the reference event's selected field values
	ReferenceEvent         string
	AutoFields             bool
	UseAggregateConditions bool
	Referrer               string
}

// Engine builds and runs discover queries
type Engine struct {
	exec  Executor
	table string
}

// NewEngine creates an engine reading from <database>.transactions
func NewEngine(exec Executor, database string) *Engine {
	return &Engine{
		exec:  exec,
		table: database + ".transactions",
	}
}

// Query runs an events query and returns its rows with per-column meta
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*structs.EventsResult, error) {
	columns, err := resolveColumns(req.SelectedColumns, req.AutoFields)
	if err != nil {
		return nil, err
	}

	filters, err := parseSearch(req.Query)
	if err != nil {
		return nil, err
	}
	where, having, err := buildConditions(filters, columns, req.UseAggregateConditions)
	if err != nil {
		return nil, err
	}

	if req.ReferenceEvent != "" {
		refConds, err := e.referenceConditions(ctx, req.ReferenceEvent, columns, req.Params)
		if err != nil {
			return nil, err
		}
		where = append(where, refConds...)
	}

	orderBy, err := resolveOrderBy(req.OrderBy, columns)
	if err != nil {
		return nil, err
	}

	builder := sq.Select().From(e.table).PlaceholderFormat(sq.Question)
	for _, c := range columns {
		builder = builder.Column(sq.Alias(sq.Expr(c.Expr, c.Args...), quoteIdent(c.Alias)))
	}
	for _, cond := range append(scopeConditions(req.Params), where...) {
		builder = builder.Where(cond)
	}
	if hasAggregate(columns) {
		for _, c := range columns {
			if !c.Aggregate {
				builder = builder.GroupBy(c.Expr)
			}
		}
	}
	for _, cond := range having {
		builder = builder.Having(cond)
	}
	if len(orderBy) > 0 {
		builder = builder.OrderBy(orderBy...)
	}
	if req.Limit > 0 {
		builder = builder.Limit(uint64(req.Limit))
	}
	if req.Offset > 0 {
		builder = builder.Offset(uint64(req.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := e.run(ctx, req.Referrer, query, args)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []structs.Row{}
	}

	meta := make(map[string]string, len(columns))
	for _, c := range columns {
		meta[c.Alias] = c.Type
	}

	return &structs.EventsResult{
		Data: rows,
		Meta: meta,
	}, nil
}

// scopeConditions restricts a query to the request's projects,
// environments, and time range
func scopeConditions(params structs.FilterParams) []sq.Sqlizer {
	conds := []sq.Sqlizer{
		sq.Eq{"project_id": params.ProjectIDs},
		sq.GtOrEq{"timestamp": params.Start},
		sq.Lt{"timestamp": params.End},
	}
	if len(params.Environments) > 0 {
		conds = append(conds, sq.Eq{"environment": params.Environments})
	}
	return conds
}

// resolveOrderBy accepts "alias" or "-alias" for any selected column
func resolveOrderBy(orderBy []string, columns []Column) ([]string, error) {
	selected := make(map[string]bool, len(columns))
	for _, c := range columns {
		selected[c.Alias] = true
	}

	var out []string
	for _, o := range orderBy {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		dir := "ASC"
		if strings.HasPrefix(o, "-") {
			dir = "DESC"
			o = o[1:]
		}
		if !selected[o] {
			return nil, invalidf("cannot order by a field that is not selected: %s", o)
		}
		out = append(out, quoteIdent(o)+" "+dir)
	}
	return out, nil
}

// referenceConditions loads the reference event and pins every selected
// non-aggregate field to its value
func (e *Engine) referenceConditions(ctx context.Context, ref string, columns []Column, params structs.FilterParams) ([]sq.Sqlizer, error) {
	project, eventID, ok := strings.Cut(ref, ":")
	if !ok || project == "" || eventID == "" {
		return nil, invalidf("invalid reference event: %s", ref)
	}

	var keys []Column
	for _, c := range columns {
		if !c.Aggregate && c.Alias != "id" && c.Alias != "timestamp" {
			keys = append(keys, c)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	builder := sq.Select().From(e.table).PlaceholderFormat(sq.Question).
		Where(sq.Eq{"project": project, "toString(event_id)": eventID}).
		Where(sq.Eq{"project_id": params.ProjectIDs}).
		Limit(1)
	for _, c := range keys {
		builder = builder.Column(sq.Alias(sq.Expr(c.Expr), quoteIdent(c.Alias)))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reference event query: %w", err)
	}

	rows, err := e.run(ctx, "api.discover.reference-event", query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalidf("reference event not found: %s", ref)
	}

	conds := make([]sq.Sqlizer, 0, len(keys))
	for _, c := range keys {
		conds = append(conds, sq.Eq{c.Expr: rows[0][c.Alias]})
	}
	return conds, nil
}

func (e *Engine) run(ctx context.Context, referrer, query string, args []any) ([]structs.Row, error) {
	start := time.Now()
	rows, err := e.exec.Select(ctx, query, args...)
	metrics.QueryDuration.WithLabelValues(referrer).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueryErrors.WithLabelValues(referrer).Inc()
		logging.Ctx(ctx).Error().Err(err).Str("referrer", referrer).Msg("query failed")
		return nil, err
	}
	logging.Ctx(ctx).Debug().
		Str("referrer", referrer).
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("query executed")
	return rows, nil
}
