package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// whereBuilder accumulates AND-ed predicates. Clauses use ? placeholders which
// are rewritten to positional $n parameters in the order they are added.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (b *whereBuilder) add(clause string, args ...any) {
	var out strings.Builder
	next := 0
	for _, r := range clause {
		if r == '?' && next < len(args) {
			b.args = append(b.args, args[next])
			next++
			fmt.Fprintf(&out, "$%d", len(b.args))
			continue
		}
		out.WriteRune(r)
	}
	b.clauses = append(b.clauses, out.String())
}

func (b *whereBuilder) sql() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// placeholder returns the next positional parameter after the current args.
func (b *whereBuilder) placeholder(offset int) string {
	return fmt.Sprintf("$%d", len(b.args)+offset)
}

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func orderClause(sortable map[string]string, sort, order, fallback string) string {
	column, ok := sortable[strings.ToLower(strings.TrimSpace(sort))]
	if !ok {
		return " ORDER BY " + fallback
	}
	direction := "DESC"
	if strings.EqualFold(strings.TrimSpace(order), "asc") {
		direction = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST", column, direction)
}

func likePattern(q string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(q)) + "%"
}

// ArticleFilter carries the query-string filters accepted by article listings.
type ArticleFilter struct {
	Status       string
	CategoryID   string
	CategorySlug string
	AuthorID     string
	CreatedBy    string
	Tag          string
	Query        string
	Featured     *bool
	From         *time.Time
	To           *time.Time
	Sort         string
	Order        string
	Page         int
	Limit        int
}

var articleSortColumns = map[string]string{
	"created_at":   "a.created_at",
	"updated_at":   "a.updated_at",
	"published_at": "a.published_at",
	"title":        "a.title",
	"view_count":   "a.view_count",
}

func (f ArticleFilter) build() (*whereBuilder, string) {
	b := &whereBuilder{}
	if f.Status != "" {
		b.add("a.status = ?", f.Status)
	}
	if f.CategoryID != "" {
		b.add("a.category_id = ?", f.CategoryID)
	}
	if f.CategorySlug != "" {
		b.add("c.slug = ?", f.CategorySlug)
	}
	if f.AuthorID != "" {
		b.add("a.author_id = ?", f.AuthorID)
	}
	if f.CreatedBy != "" {
		b.add("a.created_by = ?", f.CreatedBy)
	}
	if f.Tag != "" {
		b.add("? = ANY(a.tags)", strings.ToLower(strings.TrimSpace(f.Tag)))
	}
	if f.Featured != nil {
		b.add("a.featured = ?", *f.Featured)
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		b.add("(a.title ILIKE ? OR a.excerpt ILIKE ?)", pattern, pattern)
	}
	dateColumn := "a.created_at"
	if f.Status == "published" {
		dateColumn = "a.published_at"
	}
	if f.From != nil {
		b.add(dateColumn+" >= ?", *f.From)
	}
	if f.To != nil {
		b.add(dateColumn+" <= ?", *f.To)
	}

	fallback := "a.created_at DESC"
	if f.Status == "published" {
		fallback = "a.published_at DESC NULLS LAST, a.created_at DESC"
	}
	return b, orderClause(articleSortColumns, f.Sort, f.Order, fallback)
}

// CommentFilter narrows moderation listings.
type CommentFilter struct {
	ArticleID string
	Status    string
	Query     string
	Page      int
	Limit     int
}

func (f CommentFilter) build() *whereBuilder {
	b := &whereBuilder{}
	if f.ArticleID != "" {
		b.add("cm.article_id = ?", f.ArticleID)
	}
	if f.Status != "" {
		b.add("cm.status = ?", f.Status)
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		b.add("(cm.content ILIKE ? OR cm.author_name ILIKE ? OR cm.author_email ILIKE ?)", pattern, pattern, pattern)
	}
	return b
}

// MediaFilter narrows the media library.
type MediaFilter struct {
	MimePrefix string
	Query      string
	Page       int
	Limit      int
}

func (f MediaFilter) build() *whereBuilder {
	b := &whereBuilder{}
	if f.MimePrefix != "" {
		b.add("m.mime_type LIKE ?", strings.TrimSpace(f.MimePrefix)+"%")
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		b.add("(m.original_name ILIKE ? OR m.alt_text ILIKE ?)", pattern, pattern)
	}
	return b
}

// SubscriberFilter narrows newsletter subscriber listings.
type SubscriberFilter struct {
	Status string
	Query  string
	Page   int
	Limit  int
}

func (f SubscriberFilter) build() *whereBuilder {
	b := &whereBuilder{}
	if f.Status != "" {
		b.add("s.status = ?", f.Status)
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		b.add("(s.email ILIKE ? OR s.name ILIKE ?)", pattern, pattern)
	}
	return b
}

// ActivityFilter narrows the activity log.
type ActivityFilter struct {
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Page       int
	Limit      int
}

func (f ActivityFilter) build() *whereBuilder {
	b := &whereBuilder{}
	if f.UserID != "" {
		b.add("l.user_id = ?", f.UserID)
	}
	if f.EntityType != "" {
		b.add("l.entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		b.add("l.entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		b.add("l.action = ?", f.Action)
	}
	return b
}

// textArray binds a Go slice as text[]. The pgx driver encodes []string
// natively; nil would become NULL, so it is sent as an empty array.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// scanTextArray decodes a text[] column into dest. pgtype.Map is not safe for
// concurrent use, so each scan gets its own.
func scanTextArray(dest *[]string) sql.Scanner {
	return pgtype.NewMap().SQLScanner(dest)
}
