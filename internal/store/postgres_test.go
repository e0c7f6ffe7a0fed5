package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var articleColumnNames = []string{
	"id", "title", "slug", "excerpt", "content", "content_html", "cover_image_url", "status",
	"category_id", "author_id", "tags", "featured",
	"meta_title", "meta_description", "reading_time", "view_count", "ai_generated",
	"version", "revision_hash", "scheduled_at", "published_at", "archived_at",
	"created_by", "updated_by", "created_at", "updated_at",
	"category_name", "category_slug", "author_name", "author_slug",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func articleRow(id string, publishedAt time.Time) []driver.Value {
	return []driver.Value{
		id, "Hello", "hello", "An excerpt", "# Hello", "<h1>Hello</h1>", "", "published",
		nil, "au-1", "{go,news}", true,
		"", "", 3, int64(12), false,
		2, "abc123", nil, publishedAt, nil,
		nil, nil, publishedAt, publishedAt,
		"", "", "Ada", "ada",
	}
}

func TestListArticlesCountsAndPaginates(t *testing.T) {
	s, mock := newMockStore(t)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).
		WithArgs("published", "go").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`ORDER BY a\.published_at DESC NULLS LAST LIMIT \$3 OFFSET \$4`).
		WithArgs("published", "go", 5, 5).
		WillReturnRows(sqlmock.NewRows(articleColumnNames).AddRow(articleRow("a-1", published)...))

	items, page, err := s.ListArticles(context.Background(), ArticleFilter{Status: "published", Tag: "Go", Sort: "published_at", Page: 2, Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, Page{Page: 2, Limit: 5, Total: 7, TotalPages: 2}, page)
	assert.Equal(t, []string{"go", "news"}, items[0].Tags)
	assert.Nil(t, items[0].CategoryID)
	require.NotNil(t, items[0].AuthorID)
	assert.Equal(t, "au-1", *items[0].AuthorID)
	require.NotNil(t, items[0].PublishedAt)
	assert.True(t, items[0].PublishedAt.Equal(published))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArticleNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE a\.id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(articleColumnNames))

	_, err := s.GetArticle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishDueArticlesIsSingleConditionalUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)UPDATE articles\s+SET status = 'published'.*WHERE status = 'scheduled' AND scheduled_at <= \$1\s+RETURNING id`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a-1").AddRow("a-2"))

	ids, err := s.PublishDueArticles(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeRefreshSessionIsConditionalUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	query := `(?s)UPDATE refresh_sessions SET revoked_at=NOW\(\)\s+WHERE token_hash=\$1 AND revoked_at IS NULL AND expires_at > NOW\(\)\s+RETURNING user_id`

	mock.ExpectQuery(query).WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u-1"))
	mock.ExpectQuery(query).WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	userID, err := s.ConsumeRefreshSession(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)

	_, err = s.ConsumeRefreshSession(context.Background(), "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// arrayConverter lets []string arguments through untouched, as the pgx driver does.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if values, ok := v.([]string); ok {
		return values, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func TestBulkSetCommentStatusBindsTextArray(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewPostgresStore(db)

	mock.ExpectExec(`(?s)UPDATE comments SET status = \$2.*WHERE id::text = ANY\(\$1::text\[\]\)`).
		WithArgs([]string{"c-1", "c-2"}, "approved").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.BulkSetCommentStatus(context.Background(), []string{"c-1", "c-2"}, "approved")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCategoryMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO categories`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "categories_slug_key"})

	_, err := s.InsertCategory(context.Background(), Category{Name: "News", Slug: "news"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var constraint *ConstraintError
	require.True(t, errors.As(err, &constraint))
	assert.Equal(t, "categories_slug_key", constraint.Constraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCategoryReassignsInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE articles SET category_id = \$2`).
		WithArgs("cat-old", "cat-new").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM categories WHERE id = \$1`).
		WithArgs("cat-old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteCategory(context.Background(), "cat-old", "cat-new"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNewsletterSendingClaimsOnce(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE newsletters SET status = 'sending'`).
		WithArgs("nl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE newsletters SET status = 'sending'`).
		WithArgs("nl-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := s.MarkNewsletterSending(context.Background(), "nl-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.MarkNewsletterSending(context.Background(), "nl-1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSettingsWritesSortedKeys(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("comments.enabled", "true", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("site.title", `"Quill"`, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.UpsertSettings(context.Background(), map[string]json.RawMessage{
		"site.title":       json.RawMessage(`"Quill"`),
		"comments.enabled": json.RawMessage(`true`),
	}, "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
