package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const articleColumns = `
	a.id, a.title, a.slug, a.excerpt, a.content, a.content_html, a.cover_image_url, a.status,
	a.category_id, a.author_id, COALESCE(a.tags, '{}'), a.featured,
	a.meta_title, a.meta_description, a.reading_time, a.view_count, a.ai_generated,
	a.version, a.revision_hash, a.scheduled_at, a.published_at, a.archived_at,
	a.created_by, a.updated_by, a.created_at, a.updated_at,
	COALESCE(c.name, ''), COALESCE(c.slug, ''), COALESCE(au.name, ''), COALESCE(au.slug, '')`

const articleFrom = `
	FROM articles a
	LEFT JOIN categories c ON c.id = a.category_id
	LEFT JOIN authors au ON au.id = a.author_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (Article, error) {
	var (
		item                           Article
		categoryID, authorID           sql.NullString
		createdBy, updatedBy           sql.NullString
		tags                           []string
		scheduled, published, archived sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.Slug, &item.Excerpt, &item.Content, &item.ContentHTML, &item.CoverImageURL, &item.Status,
		&categoryID, &authorID, scanTextArray(&tags), &item.Featured,
		&item.MetaTitle, &item.MetaDescription, &item.ReadingTime, &item.ViewCount, &item.AIGenerated,
		&item.Version, &item.RevisionHash, &scheduled, &published, &archived,
		&createdBy, &updatedBy, &item.CreatedAt, &item.UpdatedAt,
		&item.CategoryName, &item.CategorySlug, &item.AuthorName, &item.AuthorSlug,
	)
	if err != nil {
		return Article{}, err
	}
	item.CategoryID = scanNullString(categoryID)
	item.AuthorID = scanNullString(authorID)
	item.CreatedBy = scanNullString(createdBy)
	item.UpdatedBy = scanNullString(updatedBy)
	item.Tags = textArray(tags)
	item.ScheduledAt = scanNullTime(scheduled)
	item.PublishedAt = scanNullTime(published)
	item.ArchivedAt = scanNullTime(archived)
	return item, nil
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	value := nt.Time
	return &value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func (s *PostgresStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]Article, Page, error) {
	page, limit := clampPage(filter.Page, filter.Limit)
	where, order := filter.build()

	total, err := s.count(ctx, `SELECT COUNT(*)`+articleFrom+where.sql(), where.args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("count articles: %w", err)
	}

	query := `SELECT` + articleColumns + articleFrom + where.sql() + order +
		fmt.Sprintf(" LIMIT %s OFFSET %s", where.placeholder(1), where.placeholder(2))
	args := append(append([]any{}, where.args...), limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0, limit)
	for rows.Next() {
		item, err := scanArticle(rows)
		if err != nil {
			return nil, Page{}, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, fmt.Errorf("iterate articles: %w", err)
	}
	return items, NewPage(page, limit, total), nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID string) (Article, error) {
	item, err := scanArticle(s.db.QueryRowContext(ctx, `SELECT`+articleColumns+articleFrom+` WHERE a.id = $1`, articleID))
	if err != nil {
		return Article{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) GetArticleBySlug(ctx context.Context, slug string) (Article, error) {
	item, err := scanArticle(s.db.QueryRowContext(ctx, `SELECT`+articleColumns+articleFrom+` WHERE a.slug = $1`, slug))
	if err != nil {
		return Article{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM articles WHERE slug = $1 AND ($2 = '' OR id::text <> $2))
	`, slug, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertArticle(ctx context.Context, item Article) (Article, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO articles (
			title, slug, excerpt, content, content_html, cover_image_url, status,
			category_id, author_id, tags, featured, meta_title, meta_description,
			reading_time, ai_generated, version, revision_hash, scheduled_at, published_at,
			created_by, updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		RETURNING id
	`,
		item.Title, item.Slug, item.Excerpt, item.Content, item.ContentHTML, item.CoverImageURL, item.Status,
		nullableString(item.CategoryID), nullableString(item.AuthorID), textArray(item.Tags), item.Featured,
		item.MetaTitle, item.MetaDescription, item.ReadingTime, item.AIGenerated, item.Version, item.RevisionHash,
		nullableTime(item.ScheduledAt), nullableTime(item.PublishedAt), nullableString(item.CreatedBy),
	).Scan(&id)
	if err != nil {
		return Article{}, fmt.Errorf("insert article: %w", classify(err))
	}
	return s.GetArticle(ctx, id)
}

// UpdateArticle persists every editable field, including lifecycle timestamps.
func (s *PostgresStore) UpdateArticle(ctx context.Context, item Article) (Article, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles SET
			title = $2, slug = $3, excerpt = $4, content = $5, content_html = $6, cover_image_url = $7,
			status = $8, category_id = $9, author_id = $10, tags = $11,
			featured = $12, meta_title = $13, meta_description = $14, reading_time = $15,
			ai_generated = $16, version = $17, revision_hash = $18, scheduled_at = $19,
			published_at = $20, archived_at = $21, updated_by = $22, updated_at = NOW()
		WHERE id = $1
	`,
		item.ID, item.Title, item.Slug, item.Excerpt, item.Content, item.ContentHTML, item.CoverImageURL,
		item.Status, nullableString(item.CategoryID), nullableString(item.AuthorID), textArray(item.Tags),
		item.Featured, item.MetaTitle, item.MetaDescription, item.ReadingTime,
		item.AIGenerated, item.Version, item.RevisionHash, nullableTime(item.ScheduledAt),
		nullableTime(item.PublishedAt), nullableTime(item.ArchivedAt), nullableString(item.UpdatedBy),
	)
	if err != nil {
		return Article{}, fmt.Errorf("update article: %w", classify(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Article{}, ErrNotFound
	}
	return s.GetArticle(ctx, item.ID)
}

// SetArticleStatus writes a lifecycle change computed by the caller.
func (s *PostgresStore) SetArticleStatus(ctx context.Context, articleID, status string, scheduledAt, publishedAt, archivedAt *time.Time, updatedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET status = $2, scheduled_at = $3, published_at = $4, archived_at = $5, updated_by = $6, updated_at = NOW()
		WHERE id = $1
	`, articleID, status, nullableTime(scheduledAt), nullableTime(publishedAt), nullableTime(archivedAt), nullableString(&updatedBy))
	if err != nil {
		return fmt.Errorf("set article status: %w", classify(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, articleID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, articleID)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementViews(ctx context.Context, articleID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE articles SET view_count = view_count + 1 WHERE id = $1`, articleID); err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	return nil
}

// PublishDueArticles flips every scheduled article whose time has come in a
// single statement and returns the ids it published. Rows already claimed by a
// concurrent tick no longer match the status predicate.
func (s *PostgresStore) PublishDueArticles(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE articles
		SET status = 'published',
			published_at = COALESCE(published_at, scheduled_at),
			scheduled_at = NULL,
			updated_at = NOW()
		WHERE status = 'scheduled' AND scheduled_at <= $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("publish due articles: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan published id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published ids: %w", err)
	}
	return ids, nil
}

// ListRelatedCandidates returns published articles sharing the category or at
// least one tag with the target. Scoring happens in the content package.
func (s *PostgresStore) ListRelatedCandidates(ctx context.Context, target Article, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT`+articleColumns+articleFrom+`
		WHERE a.status = 'published'
			AND a.id <> $1
			AND (a.category_id = $2 OR a.tags && $3::text[])
		ORDER BY a.published_at DESC NULLS LAST
		LIMIT $4
	`, target.ID, nullableString(target.CategoryID), textArray(target.Tags), limit)
	if err != nil {
		return nil, fmt.Errorf("list related candidates: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		item, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan related candidate: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate related candidates: %w", err)
	}
	return items, nil
}

// ListPublishedArticles feeds RSS, sitemap and search reindexing. A
// non-positive limit returns every published article.
func (s *PostgresStore) ListPublishedArticles(ctx context.Context, limit int) ([]Article, error) {
	query := `SELECT` + articleColumns + articleFrom + ` WHERE a.status = 'published' ORDER BY a.published_at DESC NULLS LAST`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list published articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		item, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan published article: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published articles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ArticleStats(ctx context.Context) (ArticleStats, error) {
	var stats ArticleStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'draft'),
			COUNT(*) FILTER (WHERE status = 'scheduled'),
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'archived'),
			COALESCE(SUM(view_count), 0)
		FROM articles
	`).Scan(&stats.Total, &stats.Draft, &stats.Scheduled, &stats.Published, &stats.Archived, &stats.TotalViews)
	if err != nil {
		return ArticleStats{}, fmt.Errorf("article stats: %w", err)
	}
	return stats, nil
}
