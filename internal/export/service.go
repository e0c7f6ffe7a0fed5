package export

import (
	"context"
	"fmt"
	"html/template"

	"quill/api/internal/store"
)

// Service renders single-article PDFs. The renderer is swappable so callers
// can run without a browser.
type Service struct {
	siteName  string
	renderPDF func(ctx context.Context, html string) ([]byte, error)
}

func NewService(siteName string) *Service {
	return &Service{siteName: siteName, renderPDF: chromePDF}
}

// NewServiceWithRenderer is NewService with a custom HTML to PDF renderer.
func NewServiceWithRenderer(siteName string, render func(ctx context.Context, html string) ([]byte, error)) *Service {
	return &Service{siteName: siteName, renderPDF: render}
}

// ArticlePDF prints one article. article.ContentHTML is expected to be the
// sanitized HTML stored with the article.
func (s *Service) ArticlePDF(ctx context.Context, article store.Article) (*Result, error) {
	data := TemplateData{
		Title:         article.Title,
		Excerpt:       article.Excerpt,
		ContentHTML:   template.HTML(article.ContentHTML),
		CoverImageURL: article.CoverImageURL,
		Author:        article.AuthorName,
		Category:      article.CategoryName,
		Tags:          article.Tags,
		ReadingTime:   article.ReadingTime,
		SiteName:      s.siteName,
	}
	if article.PublishedAt != nil {
		data.PublishedAt = *article.PublishedAt
	}

	html, err := RenderArticleHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	pdf, err := s.renderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     pdf,
		Filename: sanitizeFilename(article.Slug) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
