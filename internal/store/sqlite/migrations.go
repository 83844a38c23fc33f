package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sent_sales (
			id TEXT PRIMARY KEY,
			order_id INTEGER NOT NULL,
			channel TEXT NOT NULL,
			cycle_id TEXT NOT NULL DEFAULT '',
			sale_json TEXT NOT NULL,
			sold_at INTEGER NOT NULL,
			sent_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sent_sales_sent_at ON sent_sales (sent_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
