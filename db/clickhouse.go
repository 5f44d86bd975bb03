package db

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aidenappl/monitor-trends/logging"
	"github.com/aidenappl/monitor-trends/structs"
)

// Conn is the global ClickHouse connection
var Conn driver.Conn

// Database is the current database name
var Database string

// Connect establishes a connection to ClickHouse
func Connect(ctx context.Context, addr, database, username, password string, maxExecution time.Duration) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Debug: false,
		Settings: clickhouse.Settings{
			"max_execution_time": int(maxExecution.Seconds()),
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	logging.Info().Str("addr", addr).Str("database", database).Msg("connected to ClickHouse")

	Conn = conn
	Database = database
	return nil
}

// Close closes the ClickHouse connection
func Close() error {
	if Conn != nil {
		return Conn.Close()
	}
	return nil
}

// Executor runs ad-hoc SELECTs whose columns are only known at runtime
type Executor struct {
	conn     driver.Conn
	database string
}

// NewExecutor wraps a ClickHouse connection
func NewExecutor(conn driver.Conn, database string) *Executor {
	return &Executor{conn: conn, database: database}
}

// Select runs query and returns every row keyed by column name
func (e *Executor) Select(ctx context.Context, query string, args ...any) ([]structs.Row, error) {
	rows, err := e.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := rows.Columns()
	types := rows.ColumnTypes()

	var out []structs.Row
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		row := make(structs.Row, len(names))
		for i, name := range names {
			row[name] = deref(dest[i])
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// deref unwraps scan destinations, including Nullable columns which scan
// into a pointer
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// ListProjects returns the ids of every project belonging to an organization
func (e *Executor) ListProjects(ctx context.Context, organization string) ([]uint64, error) {
	rows, err := e.conn.Query(ctx, fmt.Sprintf(`
		SELECT id
		FROM %s.projects
		WHERE organization = ?
		ORDER BY id
	`, e.database), organization)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return ids, nil
}
