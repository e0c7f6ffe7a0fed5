package store

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestArticleFilterBuildsPositionalPredicates(t *testing.T) {
	featured := true
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where, order := ArticleFilter{
		Status:   "published",
		Tag:      "  Go ",
		Featured: &featured,
		Query:    "100%_done",
		From:     &from,
	}.build()

	wantSQL := " WHERE a.status = $1 AND $2 = ANY(a.tags) AND a.featured = $3 AND (a.title ILIKE $4 OR a.excerpt ILIKE $5) AND a.published_at >= $6"
	if got := where.sql(); got != wantSQL {
		t.Fatalf("where.sql() = %q, want %q", got, wantSQL)
	}
	wantArgs := []any{"published", "go", true, `%100\%\_done%`, `%100\%\_done%`, from}
	if !reflect.DeepEqual(where.args, wantArgs) {
		t.Fatalf("args = %#v, want %#v", where.args, wantArgs)
	}
	if !strings.HasPrefix(order, " ORDER BY a.published_at DESC") {
		t.Fatalf("published listings should default to newest first, got %q", order)
	}
	if where.placeholder(1) != "$7" {
		t.Fatalf("placeholder(1) = %q, want $7", where.placeholder(1))
	}
}

func TestArticleFilterSortWhitelist(t *testing.T) {
	cases := []struct {
		sort, order string
		want        string
	}{
		{sort: "title", order: "asc", want: " ORDER BY a.title ASC NULLS LAST"},
		{sort: "VIEW_COUNT", order: "", want: " ORDER BY a.view_count DESC NULLS LAST"},
		{sort: "title; DROP TABLE articles", order: "asc", want: " ORDER BY a.created_at DESC"},
		{sort: "", order: "asc", want: " ORDER BY a.created_at DESC"},
	}
	for _, tc := range cases {
		_, order := ArticleFilter{Sort: tc.sort, Order: tc.order}.build()
		if order != tc.want {
			t.Fatalf("sort=%q order=%q: got %q, want %q", tc.sort, tc.order, order, tc.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{page: 0, limit: 0, wantPage: 1, wantLimit: DefaultLimit},
		{page: -3, limit: 25, wantPage: 1, wantLimit: 25},
		{page: 4, limit: 1000, wantPage: 4, wantLimit: MaxLimit},
	}
	for _, tc := range cases {
		page, limit := clampPage(tc.page, tc.limit)
		if page != tc.wantPage || limit != tc.wantLimit {
			t.Fatalf("clampPage(%d, %d) = (%d, %d), want (%d, %d)", tc.page, tc.limit, page, limit, tc.wantPage, tc.wantLimit)
		}
	}
}

func TestNewPage(t *testing.T) {
	page := NewPage(2, 10, 21)
	if page.TotalPages != 3 {
		t.Fatalf("TotalPages = %d, want 3", page.TotalPages)
	}
	if NewPage(1, 10, 0).TotalPages != 0 {
		t.Fatal("empty result should have zero pages")
	}
}

func TestTextArrays(t *testing.T) {
	if got := textArray(nil); got == nil || len(got) != 0 {
		t.Fatalf("nil list should bind as an empty array, got %#v", got)
	}

	var got []string
	if err := scanTextArray(&got).Scan(`{go,"big news"}`); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"go", "big news"}) {
		t.Fatalf("decoded = %#v", got)
	}
	if err := scanTextArray(&got).Scan("{}"); err != nil {
		t.Fatalf("scan empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %#v", got)
	}
}
