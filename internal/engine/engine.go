// Package engine adapts the supported database engines behind a uniform
// execution surface: statement execution for loads and pipeline builds,
// rectangular queries with walltime for the benchmark itself.
package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/expbench/expbench/internal/config"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/pkg/types"
)

// Engine is one database engine connection.
type Engine interface {
	// Name returns the engine identifier (duckdb, postgres)
	Name() string

	// Connect opens the connection and verifies it with a ping
	Connect(ctx context.Context) error

	// Close releases the connection
	Close() error

	// Exec runs a statement batch (split on semicolons) and returns the
	// total walltime in seconds
	Exec(ctx context.Context, sqlText string) (float64, error)

	// Query runs a single query and returns its rows and walltime
	Query(ctx context.Context, sqlText string) (*types.ResultSet, error)
}

// Open constructs the engine selected by the configuration. The connection
// is not opened until Connect.
func Open(cfg *config.Config) (Engine, error) {
	switch cfg.Engine {
	case "duckdb":
		return NewDuckDB(cfg.DuckDB.Database), nil
	case "postgres":
		return NewPostgres(cfg.Postgres), nil
	default:
		return nil, errors.NewConfigError(errors.CodeUnknownEngine,
			"unknown engine "+cfg.Engine)
	}
}

// sqlEngine is the shared database/sql implementation behind both engines.
type sqlEngine struct {
	name   string
	driver string
	dsn    string
	db     *sql.DB
}

func (e *sqlEngine) Name() string { return e.name }

func (e *sqlEngine) Connect(ctx context.Context) error {
	db, err := sql.Open(e.driver, e.dsn)
	if err != nil {
		return errors.Wrap(errors.ErrCategoryExecution, errors.CodeConnectionFailed,
			"opening "+e.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(errors.ErrCategoryExecution, errors.CodeConnectionFailed,
			"pinging "+e.name, err)
	}
	e.db = db
	return nil
}

func (e *sqlEngine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// Exec splits the text on semicolons and executes each statement,
// summing walltimes. Statement text never contains semicolon literals.
func (e *sqlEngine) Exec(ctx context.Context, sqlText string) (float64, error) {
	var total float64
	for _, stmt := range splitStatements(sqlText) {
		start := time.Now()
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return total, execError(ctx, e.name, err)
		}
		total += time.Since(start).Seconds()
	}
	return total, nil
}

func (e *sqlEngine) Query(ctx context.Context, sqlText string) (*types.ResultSet, error) {
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, execError(ctx, e.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, execError(ctx, e.name, err)
	}

	rs := &types.ResultSet{Columns: cols}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, execError(ctx, e.name, err)
		}
		row := make(types.ResultRow, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, execError(ctx, e.name, err)
	}

	rs.WalltimeSeconds = time.Since(start).Seconds()
	return rs, nil
}

// normalize converts driver byte slices to strings so downstream
// comparisons work on both engines.
func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func execError(ctx context.Context, engine string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(errors.ErrCategoryExecution, errors.CodeExecutionTimeout,
			engine+" query exceeded the configured timeout", err)
	}
	return errors.Wrap(errors.ErrCategoryExecution, errors.CodeQueryFailed,
		engine+" query failed", err)
}
