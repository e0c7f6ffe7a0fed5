package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertActivity(ctx context.Context, entry ActivityLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal activity details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, user_name, action, entity_type, entity_id, details, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, nullableString(entry.UserID), entry.UserName, entry.Action, entry.EntityType, entry.EntityID, string(payload), entry.IPAddress)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]ActivityLog, Page, error) {
	page, limit := clampPage(filter.Page, filter.Limit)
	where := filter.build()

	total, err := s.count(ctx, `SELECT COUNT(*) FROM activity_logs l`+where.sql(), where.args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("count activity: %w", err)
	}

	query := `SELECT l.id, l.user_id, l.user_name, l.action, l.entity_type, l.entity_id, l.details::text, l.ip_address, l.created_at
		FROM activity_logs l` + where.sql() +
		fmt.Sprintf(" ORDER BY l.created_at DESC, l.id DESC LIMIT %s OFFSET %s", where.placeholder(1), where.placeholder(2))
	args := append(append([]any{}, where.args...), limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityLog, 0)
	for rows.Next() {
		var (
			item    ActivityLog
			userID  sql.NullString
			details string
		)
		if err := rows.Scan(&item.ID, &userID, &item.UserName, &item.Action, &item.EntityType, &item.EntityID, &details, &item.IPAddress, &item.CreatedAt); err != nil {
			return nil, Page{}, fmt.Errorf("scan activity: %w", err)
		}
		item.UserID = scanNullString(userID)
		item.Details = map[string]any{}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &item.Details); err != nil {
				return nil, Page{}, fmt.Errorf("decode activity details: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, fmt.Errorf("iterate activity: %w", err)
	}
	return items, NewPage(page, limit, total), nil
}
