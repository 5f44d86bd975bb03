package discover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aidenappl/monitor-trends/structs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	queries []string
	args    [][]any
	results [][]structs.Row
	err     error
}

func (f *fakeExecutor) Select(_ context.Context, query string, args ...any) ([]structs.Row, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	rows := f.results[0]
	f.results = f.results[1:]
	return rows, nil
}

var (
	testStart  = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	testMiddle = time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC)
	testEnd    = time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	testParams = structs.FilterParams{ProjectIDs: []uint64{1}, Start: testStart, End: testEnd}
)

func TestEngineQuery(t *testing.T) {
	exec := &fakeExecutor{results: [][]structs.Row{{
		{"transaction": "/api/users", "p50": 120.0},
	}}}
	engine := NewEngine(exec, "monitor")

	res, err := engine.Query(context.Background(), QueryRequest{
		SelectedColumns: []string{"transaction", "p50()"},
		Params:          testParams,
		OrderBy:         []string{"-p50"},
		Limit:           5,
		AutoFields:      true,
	})
	require.NoError(t, err)

	require.Len(t, exec.queries, 1)
	assert.Equal(t,
		"SELECT (transaction) AS transaction, (quantile(0.5)(duration)) AS p50 FROM monitor.transactions "+
			"WHERE project_id IN (?) AND timestamp >= ? AND timestamp < ? "+
			"GROUP BY transaction ORDER BY p50 DESC LIMIT 5",
		exec.queries[0])
	assert.Equal(t, []any{uint64(1), testStart, testEnd}, exec.args[0])

	assert.Equal(t, []structs.Row{{"transaction": "/api/users", "p50": 120.0}}, res.Data)
	assert.Equal(t, map[string]string{"transaction": TypeString, "p50": TypeDuration}, res.Meta)
}

func TestEngineQueryTrendColumns(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(exec, "monitor")

	res, err := engine.Query(context.Background(), QueryRequest{
		SelectedColumns: []string{
			"transaction",
			"percentile_range(transaction.duration, 0.5, 2021-01-01T00:00:00, 2021-01-01T12:00:00, 1)",
			"percentile_range(transaction.duration, 0.5, 2021-01-01T12:00:00, 2021-01-02T00:00:00, 2)",
			"divide(percentile_range_2,percentile_range_1)",
			"minus(percentile_range_2,percentile_range_1)",
			"count_range(2021-01-01T00:00:00,2021-01-01T12:00:00,1)",
			"count_range(2021-01-01T12:00:00,2021-01-02T00:00:00,2)",
			"divide(count_range_2,count_range_1)",
		},
		Query:                  "environment:production count_range_1:>10",
		Params:                 testParams,
		OrderBy:                []string{"-minus_percentile_range_2_percentile_range_1"},
		Limit:                  5,
		AutoFields:             true,
		UseAggregateConditions: true,
	})
	require.NoError(t, err)

	query := exec.queries[0]
	assert.Contains(t, query, "(quantileIf(0.5)(duration, timestamp >= ? AND timestamp < ?)) AS percentile_range_1")
	assert.Contains(t, query, "(percentile_range_2 / percentile_range_1) AS divide_percentile_range_2_percentile_range_1")
	assert.Contains(t, query, "(percentile_range_2 - percentile_range_1) AS minus_percentile_range_2_percentile_range_1")
	assert.Contains(t, query, "(count_range_2 / count_range_1) AS divide_count_range_2_count_range_1")
	assert.Contains(t, query, "environment = ?")
	assert.Contains(t, query, "GROUP BY transaction HAVING count_range_1 > ?")
	assert.Contains(t, query, "ORDER BY minus_percentile_range_2_percentile_range_1 DESC LIMIT 5")

	args := exec.args[0]
	require.Len(t, args, 13)
	assert.Equal(t, []any{testStart, testMiddle, testMiddle, testEnd}, args[:4])
	assert.Equal(t, []any{testStart, testMiddle, testMiddle, testEnd}, args[4:8])
	assert.Equal(t, []any{uint64(1), testStart, testEnd, "production", int64(10)}, args[8:])

	assert.Empty(t, res.Data)
	assert.NotNil(t, res.Data)
	assert.Equal(t, TypeDuration, res.Meta["minus_percentile_range_2_percentile_range_1"])
	assert.Equal(t, TypeNumber, res.Meta["divide_count_range_2_count_range_1"])
	assert.Equal(t, TypeInteger, res.Meta["count_range_1"])
}

func TestEngineQueryEnvironmentsAndOffset(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(exec, "monitor")

	params := testParams
	params.Environments = []string{"production", "staging"}
	_, err := engine.Query(context.Background(), QueryRequest{
		SelectedColumns: []string{"transaction"},
		Params:          params,
		Limit:           10,
		Offset:          20,
		AutoFields:      true,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT (transaction) AS transaction, (toString(event_id)) AS id FROM monitor.transactions "+
			"WHERE project_id IN (?) AND timestamp >= ? AND timestamp < ? AND environment IN (?,?) "+
			"LIMIT 10 OFFSET 20",
		exec.queries[0])
}

func TestEngineQueryReferenceEvent(t *testing.T) {
	exec := &fakeExecutor{results: [][]structs.Row{
		{{"transaction": "/api/users"}},
		{{"transaction": "/api/users", "count": uint64(3)}},
	}}
	engine := NewEngine(exec, "monitor")

	_, err := engine.Query(context.Background(), QueryRequest{
		SelectedColumns: []string{"transaction", "count()"},
		Params:          testParams,
		ReferenceEvent:  "backend:0123456789abcdef",
	})
	require.NoError(t, err)

	require.Len(t, exec.queries, 2)
	assert.Contains(t, exec.queries[0], "WHERE project = ? AND toString(event_id) = ? AND project_id IN (?) LIMIT 1")
	assert.Equal(t, []any{"backend", "0123456789abcdef", uint64(1)}, exec.args[0])

	assert.Contains(t, exec.queries[1], "AND transaction = ?")
	assert.Contains(t, exec.args[1], "/api/users")
}

func TestEngineQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		req  QueryRequest
	}{
		{name: "unknown column", req: QueryRequest{SelectedColumns: []string{"nope"}}},
		{name: "order by unselected", req: QueryRequest{SelectedColumns: []string{"transaction"}, OrderBy: []string{"-p50"}}},
		{name: "bad search", req: QueryRequest{SelectedColumns: []string{"transaction"}, Query: "nope:1"}},
		{name: "malformed reference event", req: QueryRequest{SelectedColumns: []string{"transaction"}, ReferenceEvent: "nocolon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{}
			tt.req.Params = testParams
			_, err := NewEngine(exec, "monitor").Query(context.Background(), tt.req)
			var invalid *InvalidQueryError
			require.ErrorAs(t, err, &invalid)
			assert.Empty(t, exec.queries)
		})
	}
}

func TestEngineQueryReferenceEventNotFound(t *testing.T) {
	exec := &fakeExecutor{}
	_, err := NewEngine(exec, "monitor").Query(context.Background(), QueryRequest{
		SelectedColumns: []string{"transaction", "count()"},
		Params:          testParams,
		ReferenceEvent:  "backend:missing",
	})
	var invalid *InvalidQueryError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "reference event not found: backend:missing", invalid.Message)
	assert.Len(t, exec.queries, 1)
}

func TestEngineQueryExecutorError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("code: 60, table does not exist")}
	_, err := NewEngine(exec, "monitor").Query(context.Background(), QueryRequest{
		SelectedColumns: []string{"transaction", "count()"},
		Params:          testParams,
	})
	assert.EqualError(t, err, "code: 60, table does not exist")
}
