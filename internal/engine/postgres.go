package engine

import (
	"fmt"

	_ "github.com/lib/pq"

	"github.com/expbench/expbench/internal/config"
)

// NewPostgres creates a Postgres engine from connection settings.
func NewPostgres(cfg config.PostgresConfig) Engine {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.SSLMode)
	if cfg.Password != "" {
		dsn += " password=" + cfg.Password
	}
	return &sqlEngine{
		name:   "postgres",
		driver: "postgres",
		dsn:    dsn,
	}
}
