// Package postgres implements the durable store on top of
// PostgreSQL. It opens the pgx/v5 driver through its database/sql adapter so
// repositories can be exercised by DATA-DOG/go-sqlmock in unit tests while
// production traffic still rides jackc/pgx.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/arterny/outboxed/internal/config"
)

// NewDB opens the connection pool used by both repositories.
func NewDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open failed: %w", err)
	}

	if cfg.Postgres.Pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Postgres.Pool.MaxOpenConns)
	}
	if cfg.Postgres.Pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Postgres.Pool.MaxIdleConns)
	}
	if cfg.Postgres.Pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Postgres.Pool.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	return db, nil
}
