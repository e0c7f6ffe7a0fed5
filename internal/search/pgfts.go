package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"quill/api/internal/content"
)

// PgFTS implements Searcher using the generated articles.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole API is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks matches with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := clampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := "a.fts @@ " + tsQuery
	if q.PublishedOnly {
		where += " AND a.status = 'published'"
	}
	if q.CategoryID != "" {
		args = append(args, q.CategoryID)
		where += fmt.Sprintf(" AND a.category_id::text = $%d", len(args))
	}
	if q.Tag != "" {
		args = append(args, strings.ToLower(q.Tag))
		where += fmt.Sprintf(" AND $%d = ANY(a.tags)", len(args))
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM articles a WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	dataSQL := fmt.Sprintf(`SELECT a.id::text, a.title, a.slug, a.excerpt,
			ts_headline('english', coalesce(a.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			a.status, COALESCE(a.category_id::text, ''), COALESCE(c.name, ''),
			COALESCE(a.tags, '{}'), a.published_at
		FROM articles a
		LEFT JOIN categories c ON c.id = a.category_id
		WHERE %s
		ORDER BY ts_rank(a.fts, %s) DESC, a.published_at DESC NULLS LAST
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	var results []Result
	for rows.Next() {
		var (
			r         Result
			tags      []string
			published sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug, &r.Excerpt, &r.Snippet, &r.Status, &r.CategoryID, &r.CategoryName, types.SQLScanner(&tags), &published); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Tags = nonNilTags(tags)
		if published.Valid {
			at := published.Time.UTC()
			r.PublishedAt = &at
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every article as an index document for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ArticleRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id::text, a.title, a.slug, a.excerpt, a.content, a.status,
			COALESCE(a.category_id::text, ''), COALESCE(c.name, ''),
			COALESCE(a.tags, '{}'), a.published_at
		FROM articles a
		LEFT JOIN categories c ON c.id = a.category_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	records := make([]ArticleRecord, 0)
	for rows.Next() {
		var (
			r         ArticleRecord
			tags      []string
			published sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug, &r.Excerpt, &r.Content, &r.Status, &r.CategoryID, &r.CategoryName, types.SQLScanner(&tags), &published); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		r.Content = content.PlainText(r.Content)
		r.Tags = nonNilTags(tags)
		if published.Valid {
			r.PublishedAt = published.Time.Unix()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return records, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
