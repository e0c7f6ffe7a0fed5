package store

import (
	"context"
	"database/sql"
	"fmt"
)

const categoryColumns = `
	c.id, c.name, c.slug, c.description, c.color, c.parent_id, c.sort_order,
	(SELECT COUNT(*) FROM articles a WHERE a.category_id = c.id),
	c.created_at, c.updated_at`

func scanCategory(row rowScanner) (Category, error) {
	var (
		item     Category
		parentID sql.NullString
	)
	err := row.Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.Color, &parentID, &item.SortOrder,
		&item.ArticleCount, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Category{}, err
	}
	item.ParentID = scanNullString(parentID)
	return item, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+categoryColumns+` FROM categories c ORDER BY c.sort_order, c.name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		item, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, categoryID string) (Category, error) {
	item, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT`+categoryColumns+` FROM categories c WHERE c.id = $1`, categoryID))
	if err != nil {
		return Category{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) GetCategoryBySlug(ctx context.Context, slug string) (Category, error) {
	item, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT`+categoryColumns+` FROM categories c WHERE c.slug = $1`, slug))
	if err != nil {
		return Category{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertCategory(ctx context.Context, item Category) (Category, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, slug, description, color, parent_id, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.Name, item.Slug, item.Description, item.Color, nullableString(item.ParentID), item.SortOrder).Scan(&id)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", classify(err))
	}
	return s.GetCategory(ctx, id)
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, item Category) (Category, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = $2, slug = $3, description = $4, color = $5, parent_id = $6, sort_order = $7, updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.Name, item.Slug, item.Description, item.Color, nullableString(item.ParentID), item.SortOrder)
	if err != nil {
		return Category{}, fmt.Errorf("update category: %w", classify(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Category{}, ErrNotFound
	}
	return s.GetCategory(ctx, item.ID)
}

func (s *PostgresStore) CategoryArticleCount(ctx context.Context, categoryID string) (int, error) {
	total, err := s.count(ctx, `SELECT COUNT(*) FROM articles WHERE category_id = $1`, categoryID)
	if err != nil {
		return 0, fmt.Errorf("count category articles: %w", err)
	}
	return total, nil
}

// DeleteCategory removes a category. When reassignTo is set, its articles are
// moved there first inside the same transaction.
func (s *PostgresStore) DeleteCategory(ctx context.Context, categoryID, reassignTo string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete category: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reassignTo != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE articles SET category_id = $2, updated_at = NOW() WHERE category_id = $1`, categoryID, reassignTo); err != nil {
			return fmt.Errorf("reassign category articles: %w", classify(err))
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", classify(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete category: %w", err)
	}
	return nil
}
