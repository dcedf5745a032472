// Package storage provides the relational persistence layer: the route
// catalog, accounts, and the saga transaction log, all backed by Postgres
// through bun.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Connect opens a Postgres connection pool for the given DSN.
func Connect(dsn string) (*bun.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return db, nil
}

// CreateSchema creates the tables and indices if they do not exist.
func CreateSchema(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
	models := []any{
		(*RouteRecord)(nil),
		(*Account)(nil),
		(*Transaction)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	indices := []struct {
		name   string
		model  any
		column string
	}{
		{"idx_routes_tenant_id", (*RouteRecord)(nil), "tenant_id"},
		{"idx_routes_updated_at", (*RouteRecord)(nil), "updated_at"},
	}
	for _, idx := range indices {
		if _, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	if logger != nil {
		logger.Debug("Database schema ready")
	}
	return nil
}
