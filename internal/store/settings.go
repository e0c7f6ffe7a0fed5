package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type Setting struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value::text, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	items := make([]Setting, 0)
	for rows.Next() {
		var (
			item Setting
			raw  string
		)
		if err := rows.Scan(&item.Key, &raw, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		item.Value = json.RawMessage(raw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return items, nil
}

// UpsertSettings writes every key in one transaction. Keys are applied in
// sorted order so concurrent writers lock rows consistently.
func (s *PostgresStore) UpsertSettings(ctx context.Context, values map[string]json.RawMessage, updatedBy string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range keys {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_by, updated_at)
			VALUES ($1, $2::jsonb, $3, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		`, key, string(values[key]), nullableString(&updatedBy))
		if err != nil {
			return fmt.Errorf("upsert setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}
