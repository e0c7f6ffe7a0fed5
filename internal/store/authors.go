package store

import (
	"context"
	"database/sql"
	"fmt"
)

const authorColumns = `id, user_id, name, slug, email, bio, avatar_url, website, twitter, created_at, updated_at`

func scanAuthor(row rowScanner) (Author, error) {
	var (
		item   Author
		userID sql.NullString
	)
	err := row.Scan(&item.ID, &userID, &item.Name, &item.Slug, &item.Email, &item.Bio, &item.AvatarURL,
		&item.Website, &item.Twitter, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Author{}, err
	}
	item.UserID = scanNullString(userID)
	return item, nil
}

func (s *PostgresStore) ListAuthors(ctx context.Context) ([]Author, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+authorColumns+` FROM authors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	defer rows.Close()

	items := make([]Author, 0)
	for rows.Next() {
		item, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAuthor(ctx context.Context, authorID string) (Author, error) {
	item, err := scanAuthor(s.db.QueryRowContext(ctx, `SELECT `+authorColumns+` FROM authors WHERE id = $1`, authorID))
	if err != nil {
		return Author{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) GetAuthorByUserID(ctx context.Context, userID string) (Author, error) {
	item, err := scanAuthor(s.db.QueryRowContext(ctx, `SELECT `+authorColumns+` FROM authors WHERE user_id = $1`, userID))
	if err != nil {
		return Author{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertAuthor(ctx context.Context, item Author) (Author, error) {
	created, err := scanAuthor(s.db.QueryRowContext(ctx, `
		INSERT INTO authors (user_id, name, slug, email, bio, avatar_url, website, twitter)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+authorColumns,
		nullableString(item.UserID), item.Name, item.Slug, item.Email, item.Bio, item.AvatarURL, item.Website, item.Twitter))
	if err != nil {
		return Author{}, fmt.Errorf("insert author: %w", classify(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateAuthor(ctx context.Context, item Author) (Author, error) {
	updated, err := scanAuthor(s.db.QueryRowContext(ctx, `
		UPDATE authors
		SET name = $2, slug = $3, email = $4, bio = $5, avatar_url = $6, website = $7, twitter = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+authorColumns,
		item.ID, item.Name, item.Slug, item.Email, item.Bio, item.AvatarURL, item.Website, item.Twitter))
	if err != nil {
		return Author{}, classify(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteAuthor(ctx context.Context, authorID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM authors WHERE id = $1`, authorID)
	if err != nil {
		return fmt.Errorf("delete author: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}
