package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"quill/api/internal/store"
)

type articleRow struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Status      string   `json:"status"`
	Category    string   `json:"category"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
	Featured    bool     `json:"featured"`
	ViewCount   int64    `json:"viewCount"`
	ReadingTime int      `json:"readingTime"`
	PublishedAt string   `json:"publishedAt"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

var articleHeader = []string{"id", "title", "slug", "status", "category", "author", "tags", "featured", "view_count", "reading_time", "published_at", "created_at", "updated_at"}

func (r articleRow) record() []string {
	return []string{r.ID, r.Title, r.Slug, r.Status, r.Category, r.Author, strings.Join(r.Tags, ";"),
		strconv.FormatBool(r.Featured), strconv.FormatInt(r.ViewCount, 10), strconv.Itoa(r.ReadingTime),
		r.PublishedAt, r.CreatedAt, r.UpdatedAt}
}

type subscriberRow struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	ConfirmedAt    string `json:"confirmedAt"`
	UnsubscribedAt string `json:"unsubscribedAt"`
	CreatedAt      string `json:"createdAt"`
}

var subscriberHeader = []string{"id", "email", "name", "status", "source", "confirmed_at", "unsubscribed_at", "created_at"}

func (r subscriberRow) record() []string {
	return []string{r.ID, r.Email, r.Name, r.Status, r.Source, r.ConfirmedAt, r.UnsubscribedAt, r.CreatedAt}
}

type commentRow struct {
	ID           string `json:"id"`
	ArticleID    string `json:"articleId"`
	ArticleTitle string `json:"articleTitle"`
	AuthorName   string `json:"authorName"`
	AuthorEmail  string `json:"authorEmail"`
	Status       string `json:"status"`
	Content      string `json:"content"`
	CreatedAt    string `json:"createdAt"`
}

var commentHeader = []string{"id", "article_id", "article_title", "author_name", "author_email", "status", "content", "created_at"}

func (r commentRow) record() []string {
	return []string{r.ID, r.ArticleID, r.ArticleTitle, r.AuthorName, r.AuthorEmail, r.Status, r.Content, r.CreatedAt}
}

func Articles(format Format, articles []store.Article, now time.Time) (*Result, error) {
	rows := make([]articleRow, 0, len(articles))
	for _, a := range articles {
		rows = append(rows, articleRow{
			ID:          a.ID,
			Title:       a.Title,
			Slug:        a.Slug,
			Status:      a.Status,
			Category:    a.CategoryName,
			Author:      a.AuthorName,
			Tags:        nonNilStrings(a.Tags),
			Featured:    a.Featured,
			ViewCount:   a.ViewCount,
			ReadingTime: a.ReadingTime,
			PublishedAt: formatTime(a.PublishedAt),
			CreatedAt:   formatTime(&a.CreatedAt),
			UpdatedAt:   formatTime(&a.UpdatedAt),
		})
	}
	return encode(format, "articles", now, articleHeader, rows)
}

func Subscribers(format Format, subscribers []store.Subscriber, now time.Time) (*Result, error) {
	rows := make([]subscriberRow, 0, len(subscribers))
	for _, s := range subscribers {
		rows = append(rows, subscriberRow{
			ID:             s.ID,
			Email:          s.Email,
			Name:           s.Name,
			Status:         s.Status,
			Source:         s.Source,
			ConfirmedAt:    formatTime(s.ConfirmedAt),
			UnsubscribedAt: formatTime(s.UnsubscribedAt),
			CreatedAt:      formatTime(&s.CreatedAt),
		})
	}
	return encode(format, "subscribers", now, subscriberHeader, rows)
}

func Comments(format Format, comments []store.Comment, now time.Time) (*Result, error) {
	rows := make([]commentRow, 0, len(comments))
	for _, c := range comments {
		rows = append(rows, commentRow{
			ID:           c.ID,
			ArticleID:    c.ArticleID,
			ArticleTitle: c.ArticleTitle,
			AuthorName:   c.AuthorName,
			AuthorEmail:  c.AuthorEmail,
			Status:       c.Status,
			Content:      c.Content,
			CreatedAt:    formatTime(&c.CreatedAt),
		})
	}
	return encode(format, "comments", now, commentHeader, rows)
}

type recorder interface {
	record() []string
}

func encode[R recorder](format Format, base string, now time.Time, header []string, rows []R) (*Result, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: Filename(base, format, now), MimeType: "application/json"}, nil
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		w.UseCRLF = true
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for _, row := range rows {
			record := row.record()
			for i := range record {
				record[i] = neutralizeFormula(record[i])
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return &Result{Data: buf.Bytes(), Filename: Filename(base, format, now), MimeType: "text/csv; charset=utf-8"}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// neutralizeFormula prefixes cells that spreadsheets would evaluate.
func neutralizeFormula(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
