package search

import (
	"context"
	"time"

	"quill/api/internal/content"
	"quill/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Slug         string     `json:"slug"`
	Excerpt      string     `json:"excerpt"`
	Snippet      string     `json:"snippet"`
	Status       string     `json:"status"`
	CategoryID   string     `json:"categoryId,omitempty"`
	CategoryName string     `json:"categoryName,omitempty"`
	Tags         []string   `json:"tags"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
}

// Query describes a search request. PublishedOnly is set for every request
// that does not come from an authenticated admin.
type Query struct {
	Text          string
	CategoryID    string
	Tag           string
	Limit         int
	Offset        int
	PublishedOnly bool
}

// Response is the envelope returned by the search endpoints.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push articles into a search index.
type Indexer interface {
	IndexArticles(records []ArticleRecord) error
	DeleteArticle(id string) error
}

// ArticleRecord is the data we index for an article.
type ArticleRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Slug         string   `json:"slug"`
	Excerpt      string   `json:"excerpt"`
	Content      string   `json:"content"`
	Status       string   `json:"status"`
	CategoryID   string   `json:"categoryId"`
	CategoryName string   `json:"categoryName"`
	Tags         []string `json:"tags"`
	// Unix seconds; zero when the article was never published.
	PublishedAt int64 `json:"publishedAt"`
}

// RecordFromArticle flattens an article into its index document. Markdown is
// reduced to plain text so highlights do not cut through syntax.
func RecordFromArticle(article store.Article) ArticleRecord {
	record := ArticleRecord{
		ID:           article.ID,
		Title:        article.Title,
		Slug:         article.Slug,
		Excerpt:      article.Excerpt,
		Content:      content.PlainText(article.Content),
		Status:       article.Status,
		CategoryName: article.CategoryName,
		Tags:         article.Tags,
	}
	if article.CategoryID != nil {
		record.CategoryID = *article.CategoryID
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}
	if article.PublishedAt != nil {
		record.PublishedAt = article.PublishedAt.Unix()
	}
	return record
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
