// Package seo builds Open Graph, Twitter Card and JSON-LD metadata for articles.
package seo

import (
	"encoding/json"
	"html"
	"strings"
	"time"

	"quill/api/internal/content"
	"quill/api/internal/feed"
	"quill/api/internal/store"
)

const maxDescription = 160

// Meta is the search and social metadata of one article page.
type Meta struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	CanonicalURL  string     `json:"canonicalUrl"`
	Image         string     `json:"image,omitempty"`
	SiteName      string     `json:"siteName"`
	Author        string     `json:"author,omitempty"`
	Section       string     `json:"section,omitempty"`
	Tags          []string   `json:"tags"`
	PublishedTime *time.Time `json:"publishedTime,omitempty"`
	ModifiedTime  time.Time  `json:"modifiedTime"`
	TwitterHandle string     `json:"twitterHandle,omitempty"`
}

// Tag is one <meta> element. Open Graph uses property, Twitter uses name.
type Tag struct {
	Property string `json:"property,omitempty"`
	Name     string `json:"name,omitempty"`
	Content  string `json:"content"`
}

// Result bundles every rendering of a Meta.
type Result struct {
	Meta   Meta              `json:"meta"`
	Tags   []Tag             `json:"tags"`
	Map    map[string]string `json:"map"`
	JSONLD json.RawMessage   `json:"jsonLd"`
	HTML   string            `json:"html"`
}

// ForArticle derives Meta from an article, preferring its explicit meta fields.
func ForArticle(article store.Article, site feed.Site, twitterHandle string) Meta {
	title := strings.TrimSpace(article.MetaTitle)
	if title == "" {
		title = article.Title
	}
	description := strings.TrimSpace(article.MetaDescription)
	if description == "" {
		description = strings.TrimSpace(article.Excerpt)
	}
	if description == "" {
		description = content.Excerpt(article.Content, maxDescription)
	}
	tags := article.Tags
	if tags == nil {
		tags = []string{}
	}
	return Meta{
		Title:         title,
		Description:   description,
		CanonicalURL:  feed.ArticleURL(site.URL, article.Slug),
		Image:         article.CoverImageURL,
		SiteName:      site.Name,
		Author:        article.AuthorName,
		Section:       article.CategoryName,
		Tags:          tags,
		PublishedTime: article.PublishedAt,
		ModifiedTime:  article.UpdatedAt,
		TwitterHandle: normalizeHandle(twitterHandle),
	}
}

func normalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ""
	}
	return "@" + strings.TrimLeft(handle, "@")
}

// OpenGraph returns og: and article: tags.
func (m Meta) OpenGraph() []Tag {
	tags := []Tag{
		{Property: "og:type", Content: "article"},
		{Property: "og:title", Content: m.Title},
		{Property: "og:description", Content: m.Description},
		{Property: "og:url", Content: m.CanonicalURL},
		{Property: "og:site_name", Content: m.SiteName},
	}
	if m.Image != "" {
		tags = append(tags, Tag{Property: "og:image", Content: m.Image})
	}
	if m.PublishedTime != nil {
		tags = append(tags, Tag{Property: "article:published_time", Content: m.PublishedTime.UTC().Format(time.RFC3339)})
	}
	if !m.ModifiedTime.IsZero() {
		tags = append(tags, Tag{Property: "article:modified_time", Content: m.ModifiedTime.UTC().Format(time.RFC3339)})
	}
	if m.Author != "" {
		tags = append(tags, Tag{Property: "article:author", Content: m.Author})
	}
	if m.Section != "" {
		tags = append(tags, Tag{Property: "article:section", Content: m.Section})
	}
	for _, tag := range m.Tags {
		tags = append(tags, Tag{Property: "article:tag", Content: tag})
	}
	return tags
}

// TwitterCard uses the large image card only when there is an image to show.
func (m Meta) TwitterCard() []Tag {
	card := "summary"
	if m.Image != "" {
		card = "summary_large_image"
	}
	tags := []Tag{
		{Name: "twitter:card", Content: card},
		{Name: "twitter:title", Content: m.Title},
		{Name: "twitter:description", Content: m.Description},
	}
	if m.Image != "" {
		tags = append(tags, Tag{Name: "twitter:image", Content: m.Image})
	}
	if m.TwitterHandle != "" {
		tags = append(tags, Tag{Name: "twitter:site", Content: m.TwitterHandle})
	}
	return tags
}

// JSONLD renders a schema.org BlogPosting.
func (m Meta) JSONLD() (json.RawMessage, error) {
	doc := map[string]any{
		"@context":         "https://schema.org",
		"@type":            "BlogPosting",
		"headline":         m.Title,
		"description":      m.Description,
		"url":              m.CanonicalURL,
		"mainEntityOfPage": map[string]any{"@type": "WebPage", "@id": m.CanonicalURL},
		"publisher":        map[string]any{"@type": "Organization", "name": m.SiteName},
	}
	if m.Image != "" {
		doc["image"] = m.Image
	}
	if m.Author != "" {
		doc["author"] = map[string]any{"@type": "Person", "name": m.Author}
	}
	if m.PublishedTime != nil {
		doc["datePublished"] = m.PublishedTime.UTC().Format(time.RFC3339)
	}
	if !m.ModifiedTime.IsZero() {
		doc["dateModified"] = m.ModifiedTime.UTC().Format(time.RFC3339)
	}
	if len(m.Tags) > 0 {
		doc["keywords"] = strings.Join(m.Tags, ", ")
	}
	return json.Marshal(doc)
}

// Render produces every representation at once.
func (m Meta) Render() (Result, error) {
	ld, err := m.JSONLD()
	if err != nil {
		return Result{}, err
	}
	tags := append(m.OpenGraph(), m.TwitterCard()...)

	values := make(map[string]string, len(tags))
	var b strings.Builder
	b.WriteString("<title>" + html.EscapeString(m.Title) + "</title>\n")
	b.WriteString(`<meta name="description" content="` + html.EscapeString(m.Description) + "\">\n")
	b.WriteString(`<link rel="canonical" href="` + html.EscapeString(m.CanonicalURL) + "\">\n")
	for _, tag := range tags {
		key, attr := tag.Property, "property"
		if key == "" {
			key, attr = tag.Name, "name"
		}
		if existing, ok := values[key]; ok {
			values[key] = existing + "," + tag.Content
		} else {
			values[key] = tag.Content
		}
		b.WriteString(`<meta ` + attr + `="` + html.EscapeString(key) + `" content="` + html.EscapeString(tag.Content) + "\">\n")
	}
	// json.Marshal escapes <, > and & so the payload cannot close the script element.
	b.WriteString(`<script type="application/ld+json">` + string(ld) + "</script>\n")

	return Result{Meta: m, Tags: tags, Map: values, JSONLD: ld, HTML: b.String()}, nil
}
