package store

import (
	"context"
	"database/sql"
	"fmt"
)

const mediaColumns = `
	m.id, m.filename, m.original_name, m.mime_type, m.size_bytes, m.width, m.height,
	m.storage_key, m.thumbnail_key, m.url, m.thumbnail_url, m.alt_text, m.caption,
	m.uploaded_by, m.created_at`

func scanMedia(row rowScanner) (MediaItem, error) {
	var (
		item       MediaItem
		uploadedBy sql.NullString
	)
	err := row.Scan(&item.ID, &item.Filename, &item.OriginalName, &item.MimeType, &item.SizeBytes, &item.Width, &item.Height,
		&item.StorageKey, &item.ThumbnailKey, &item.URL, &item.ThumbnailURL, &item.AltText, &item.Caption,
		&uploadedBy, &item.CreatedAt)
	if err != nil {
		return MediaItem{}, err
	}
	item.UploadedBy = scanNullString(uploadedBy)
	return item, nil
}

func (s *PostgresStore) ListMedia(ctx context.Context, filter MediaFilter) ([]MediaItem, Page, error) {
	page, limit := clampPage(filter.Page, filter.Limit)
	where := filter.build()

	total, err := s.count(ctx, `SELECT COUNT(*) FROM media_items m`+where.sql(), where.args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("count media: %w", err)
	}

	query := `SELECT` + mediaColumns + ` FROM media_items m` + where.sql() +
		fmt.Sprintf(" ORDER BY m.created_at DESC LIMIT %s OFFSET %s", where.placeholder(1), where.placeholder(2))
	args := append(append([]any{}, where.args...), limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := make([]MediaItem, 0)
	for rows.Next() {
		item, err := scanMedia(rows)
		if err != nil {
			return nil, Page{}, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, fmt.Errorf("iterate media: %w", err)
	}
	return items, NewPage(page, limit, total), nil
}

func (s *PostgresStore) GetMedia(ctx context.Context, mediaID string) (MediaItem, error) {
	item, err := scanMedia(s.db.QueryRowContext(ctx, `SELECT`+mediaColumns+` FROM media_items m WHERE m.id = $1`, mediaID))
	if err != nil {
		return MediaItem{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertMedia(ctx context.Context, item MediaItem) (MediaItem, error) {
	created, err := scanMedia(s.db.QueryRowContext(ctx, `
		INSERT INTO media_items AS m (filename, original_name, mime_type, size_bytes, width, height,
			storage_key, thumbnail_key, url, thumbnail_url, alt_text, caption, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING`+mediaColumns,
		item.Filename, item.OriginalName, item.MimeType, item.SizeBytes, item.Width, item.Height,
		item.StorageKey, item.ThumbnailKey, item.URL, item.ThumbnailURL, item.AltText, item.Caption,
		nullableString(item.UploadedBy)))
	if err != nil {
		return MediaItem{}, fmt.Errorf("insert media: %w", classify(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateMediaMeta(ctx context.Context, mediaID, altText, caption string) (MediaItem, error) {
	updated, err := scanMedia(s.db.QueryRowContext(ctx, `
		UPDATE media_items AS m SET alt_text = $2, caption = $3
		WHERE m.id = $1
		RETURNING`+mediaColumns, mediaID, altText, caption))
	if err != nil {
		return MediaItem{}, classify(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteMedia(ctx context.Context, mediaID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM media_items WHERE id = $1`, mediaID)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}
