package engine

import (
	_ "github.com/marcboeker/go-duckdb/v2"
)

// NewDuckDB creates a DuckDB engine over the given database file. An empty
// path opens an in-memory database, which does not survive between modes.
func NewDuckDB(path string) Engine {
	return &sqlEngine{
		name:   "duckdb",
		driver: "duckdb",
		dsn:    path,
	}
}
