package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
)

var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS products (
		company_id     TEXT NOT NULL,
		id             TEXT NOT NULL,
		technical_name TEXT NOT NULL,
		common_name    TEXT NOT NULL DEFAULT '',
		position       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_entries (
		id                     UUID PRIMARY KEY,
		company_id             TEXT NOT NULL,
		date                   TIMESTAMPTZ NOT NULL,
		product_id             TEXT NOT NULL,
		product_technical_name TEXT NOT NULL,
		product_common_name    TEXT NOT NULL DEFAULT '',
		quantity               NUMERIC NOT NULL,
		truck_number           TEXT NOT NULL DEFAULT '',
		invoice_number         TEXT NOT NULL,
		from_fallback          BOOLEAN NOT NULL DEFAULT FALSE,
		created_at             TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS dispatch_entries_company_date ON dispatch_entries (company_id, date)`,
	`CREATE TABLE IF NOT EXISTS stock_balances (
		company_id         TEXT NOT NULL,
		product_id         TEXT NOT NULL,
		available_quantity NUMERIC NOT NULL DEFAULT 0,
		last_updated       TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (company_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS company_invoice_counters (
		company_id          TEXT PRIMARY KEY,
		last_invoice_number TEXT NOT NULL,
		last_updated        TIMESTAMPTZ NOT NULL
	)`,
}

// SQLite keeps decimals as TEXT; its NUMERIC affinity degrades fractions to REAL.
var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS products (
		company_id     TEXT NOT NULL,
		id             TEXT NOT NULL,
		technical_name TEXT NOT NULL,
		common_name    TEXT NOT NULL DEFAULT '',
		position       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_entries (
		id                     TEXT PRIMARY KEY,
		company_id             TEXT NOT NULL,
		date                   DATETIME NOT NULL,
		product_id             TEXT NOT NULL,
		product_technical_name TEXT NOT NULL,
		product_common_name    TEXT NOT NULL DEFAULT '',
		quantity               TEXT NOT NULL,
		truck_number           TEXT NOT NULL DEFAULT '',
		invoice_number         TEXT NOT NULL,
		from_fallback          BOOLEAN NOT NULL DEFAULT 0,
		created_at             DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS dispatch_entries_company_date ON dispatch_entries (company_id, date)`,
	`CREATE TABLE IF NOT EXISTS stock_balances (
		company_id         TEXT NOT NULL,
		product_id         TEXT NOT NULL,
		available_quantity TEXT NOT NULL DEFAULT '0',
		last_updated       DATETIME NOT NULL,
		PRIMARY KEY (company_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS company_invoice_counters (
		company_id          TEXT PRIMARY KEY,
		last_invoice_number TEXT NOT NULL,
		last_updated        DATETIME NOT NULL
	)`,
}

// Migrate applies the idempotent schema for the connected dialect.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stmts := sqliteDDL
	if db.Dialect == dialect.Postgres {
		stmts = postgresDDL
	}
	for i, stmt := range stmts {
		if err := db.exec(ctx, stmt, []any{}); err != nil {
			logger.Error("db.migrate.failed", "step", i, "error", err)
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	logger.Info("db.migrate.ok", "dialect", db.Dialect, "statements", len(stmts))
	return nil
}
