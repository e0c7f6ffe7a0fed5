// Package feed renders the public RSS feed and sitemap.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/snabb/sitemap"

	"quill/api/internal/store"
)

// Site carries the public identity of the blog.
type Site struct {
	Name        string
	URL         string
	Description string
	Author      string
}

func ArticleURL(siteURL, slug string) string {
	return strings.TrimRight(siteURL, "/") + "/blog/" + slug
}

func CategoryURL(siteURL, slug string) string {
	return strings.TrimRight(siteURL, "/") + "/category/" + slug
}

// RSS renders an RSS 2.0 document for the given published articles, newest first.
func RSS(site Site, articles []store.Article, now time.Time) (string, error) {
	feed := &feeds.Feed{
		Title:       site.Name,
		Link:        &feeds.Link{Href: strings.TrimRight(site.URL, "/")},
		Description: site.Description,
		Created:     now,
		Updated:     now,
	}
	if site.Author != "" {
		feed.Author = &feeds.Author{Name: site.Author}
	}

	for _, article := range articles {
		if article.Status != "published" {
			continue
		}
		link := ArticleURL(site.URL, article.Slug)
		item := &feeds.Item{
			Title:       article.Title,
			Link:        &feeds.Link{Href: link},
			Description: article.Excerpt,
			Content:     article.ContentHTML,
			Id:          link,
			Updated:     article.UpdatedAt,
		}
		if article.PublishedAt != nil {
			item.Created = *article.PublishedAt
		}
		if article.AuthorName != "" {
			item.Author = &feeds.Author{Name: article.AuthorName}
		}
		if article.CoverImageURL != "" {
			item.Enclosure = &feeds.Enclosure{Url: article.CoverImageURL, Type: imageType(article.CoverImageURL), Length: "0"}
		}
		feed.Items = append(feed.Items, item)
	}
	if len(feed.Items) > 0 && !feed.Items[0].Created.IsZero() {
		feed.Updated = feed.Items[0].Created
	}
	return feed.ToRss()
}

func imageType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Sitemap lists the home page, every category page and every published article.
func Sitemap(site Site, categories []store.Category, articles []store.Article, now time.Time) ([]byte, error) {
	sm := sitemap.New()
	sm.Add(&sitemap.URL{
		Loc:        strings.TrimRight(site.URL, "/") + "/",
		LastMod:    utcTime(now),
		ChangeFreq: sitemap.Daily,
		Priority:   1.0,
	})
	for _, category := range categories {
		sm.Add(&sitemap.URL{
			Loc:        CategoryURL(site.URL, category.Slug),
			LastMod:    utcTime(category.UpdatedAt),
			ChangeFreq: sitemap.Weekly,
			Priority:   0.6,
		})
	}
	for _, article := range articles {
		if article.Status != "published" {
			continue
		}
		sm.Add(&sitemap.URL{
			Loc:        ArticleURL(site.URL, article.Slug),
			LastMod:    utcTime(article.UpdatedAt),
			ChangeFreq: sitemap.Monthly,
			Priority:   0.8,
		})
	}

	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	return buf.Bytes(), nil
}

// utcTime returns nil for the zero time so lastmod is omitted.
func utcTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
