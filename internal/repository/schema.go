package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

const (
	receiptsTable   = "receipts"
	dailyStatsTable = "daily_stats"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		id BIGSERIAL PRIMARY KEY,
		receipt_number VARCHAR(255) NOT NULL,
		store_name VARCHAR(255),
		store_id VARCHAR(100),
		ticket_amount NUMERIC(12,2),
		print_time TIMESTAMP,
		original_print_time VARCHAR(32),
		timezone_conversion VARCHAR(32),
		processing_date DATE NOT NULL,
		source_file_path TEXT,
		original_filename VARCHAR(255),
		raw_json JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT receipts_number_date_key UNIQUE (receipt_number, processing_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_processing_date ON receipts (processing_date)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_store_name ON receipts (store_name)`,
	`CREATE TABLE IF NOT EXISTS daily_stats (
		id SERIAL PRIMARY KEY,
		processing_date DATE NOT NULL UNIQUE,
		total_receipts INTEGER NOT NULL DEFAULT 0,
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		receipt_number TEXT NOT NULL,
		store_name TEXT,
		store_id TEXT,
		ticket_amount REAL,
		print_time TEXT,
		original_print_time TEXT,
		timezone_conversion TEXT,
		processing_date TEXT NOT NULL,
		source_file_path TEXT,
		original_filename TEXT,
		raw_json TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (receipt_number, processing_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_processing_date ON receipts (processing_date)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_store_name ON receipts (store_name)`,
	`CREATE TABLE IF NOT EXISTS daily_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		processing_date TEXT NOT NULL UNIQUE,
		total_receipts INTEGER NOT NULL DEFAULT 0,
		total_amount REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// EnsureSchema creates the receipts and daily_stats tables if missing.
func EnsureSchema(ctx context.Context, drv *entsql.Driver) error {
	stmts := postgresSchema
	if drv.Dialect() == dialect.SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := drv.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
