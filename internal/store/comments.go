package store

import (
	"context"
	"database/sql"
	"fmt"
)

const commentColumns = `
	cm.id, cm.article_id, cm.parent_id, cm.author_name, cm.author_email, cm.author_url, cm.content,
	cm.status, cm.is_staff, cm.ip_address, cm.user_agent, cm.created_at, cm.updated_at,
	COALESCE(a.title, ''), COALESCE(a.slug, '')`

const commentFrom = `
	FROM comments cm
	LEFT JOIN articles a ON a.id = cm.article_id`

func scanComment(row rowScanner) (Comment, error) {
	var (
		item     Comment
		parentID sql.NullString
	)
	err := row.Scan(&item.ID, &item.ArticleID, &parentID, &item.AuthorName, &item.AuthorEmail, &item.AuthorURL, &item.Content,
		&item.Status, &item.IsStaff, &item.IPAddress, &item.UserAgent, &item.CreatedAt, &item.UpdatedAt,
		&item.ArticleTitle, &item.ArticleSlug)
	if err != nil {
		return Comment{}, err
	}
	item.ParentID = scanNullString(parentID)
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, filter CommentFilter) ([]Comment, Page, error) {
	page, limit := clampPage(filter.Page, filter.Limit)
	where := filter.build()

	total, err := s.count(ctx, `SELECT COUNT(*)`+commentFrom+where.sql(), where.args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("count comments: %w", err)
	}

	query := `SELECT` + commentColumns + commentFrom + where.sql() +
		fmt.Sprintf(" ORDER BY cm.created_at DESC LIMIT %s OFFSET %s", where.placeholder(1), where.placeholder(2))
	args := append(append([]any{}, where.args...), limit, (page-1)*limit)

	items, err := s.queryComments(ctx, query, args...)
	if err != nil {
		return nil, Page{}, err
	}
	return items, NewPage(page, limit, total), nil
}

// ListApprovedComments returns the public thread for an article, oldest first.
func (s *PostgresStore) ListApprovedComments(ctx context.Context, articleID string) ([]Comment, error) {
	return s.queryComments(ctx, `SELECT`+commentColumns+commentFrom+`
		WHERE cm.article_id = $1 AND cm.status = 'approved'
		ORDER BY cm.created_at ASC
	`, articleID)
}

func (s *PostgresStore) queryComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	item, err := scanComment(s.db.QueryRowContext(ctx, `SELECT`+commentColumns+commentFrom+` WHERE cm.id = $1`, commentID))
	if err != nil {
		return Comment{}, classify(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (article_id, parent_id, author_name, author_email, author_url, content, status, is_staff, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, item.ArticleID, nullableString(item.ParentID), item.AuthorName, item.AuthorEmail, item.AuthorURL, item.Content,
		item.Status, item.IsStaff, item.IPAddress, item.UserAgent).Scan(&id)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", classify(err))
	}
	return s.GetComment(ctx, id)
}

func (s *PostgresStore) SetCommentStatus(ctx context.Context, commentID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE comments SET status = $2, updated_at = NOW() WHERE id = $1`, commentID, status)
	if err != nil {
		return fmt.Errorf("set comment status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkSetCommentStatus updates every listed comment and reports how many rows
// changed. Unknown ids are ignored.
func (s *PostgresStore) BulkSetCommentStatus(ctx context.Context, commentIDs []string, status string) (int, error) {
	if len(commentIDs) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET status = $2, updated_at = NOW()
		WHERE id::text = ANY($1::text[])
	`, commentIDs, status)
	if err != nil {
		return 0, fmt.Errorf("bulk set comment status: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *PostgresStore) BulkDeleteComments(ctx context.Context, commentIDs []string) (int, error) {
	if len(commentIDs) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comments WHERE id::text = ANY($1::text[])
	`, commentIDs)
	if err != nil {
		return 0, fmt.Errorf("bulk delete comments: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CommentStats(ctx context.Context) (CommentStats, error) {
	var stats CommentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'spam'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM comments
	`).Scan(&stats.Pending, &stats.Approved, &stats.Spam, &stats.Rejected)
	if err != nil {
		return CommentStats{}, fmt.Errorf("comment stats: %w", err)
	}
	return stats, nil
}
