package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    market TEXT NOT NULL,
    entry_price REAL NOT NULL,
    amount REAL NOT NULL,
    entry_time DATETIME NOT NULL,
    stop_loss REAL NOT NULL,
    take_profit REAL NOT NULL,
    exit_price REAL,
    exit_time DATETIME,
    pnl REAL,
    pnl_rate REAL,
    status TEXT NOT NULL DEFAULT 'Active'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_active
    ON positions(status) WHERE status = 'Active';

CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange_id TEXT,
    market TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL,
    volume REAL,
    quote_amount REAL,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    executed_volume REAL DEFAULT 0,
    executed_quote REAL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_exchange_id ON orders(exchange_id);

CREATE TABLE IF NOT EXISTS price_ticks (
    market TEXT NOT NULL,
    ts_ms INTEGER NOT NULL,
    trade_price REAL NOT NULL,
    change_rate REAL NOT NULL,
    volume REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    market TEXT NOT NULL,
    kind TEXT NOT NULL,
    confidence REAL NOT NULL,
    reason TEXT,
    ts_ms INTEGER NOT NULL
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "orders", "error", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "executed_quote", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "positions", "pnl_rate", "REAL"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
