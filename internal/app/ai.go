package app

import (
	"context"
	"strings"

	"quill/api/internal/ai"
	"quill/api/internal/export"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

type GenerateInput struct {
	ai.GenerateRequest
	Save       bool    `json:"save"`
	CategoryID *string `json:"categoryId"`
}

type GenerateResult struct {
	Article ai.GeneratedArticle `json:"article"`
	Draft   *ArticleView        `json:"draft,omitempty"`
}

// GenerateArticle asks the model for an article and optionally stores it as
// a draft flagged ai_generated.
func (s *Service) GenerateArticle(ctx context.Context, sess Session, in GenerateInput, ip string) (GenerateResult, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return GenerateResult{}, forbidden("You cannot create articles")
	}
	if !s.ai.Available() {
		return GenerateResult{}, ai.ErrAIUnavailable
	}
	req := in.GenerateRequest
	if strings.TrimSpace(req.Tone) == "" {
		req.Tone = s.settingString(ctx, "ai.default_tone")
	}
	generated, err := s.ai.GenerateArticle(ctx, req)
	if err != nil {
		return GenerateResult{}, err
	}
	s.recordActivity(ctx, sess, "ai.generate", "article", "", map[string]any{"topic": req.Topic, "saved": in.Save}, ip)

	result := GenerateResult{Article: generated}
	if !in.Save {
		return result, nil
	}
	draft, err := s.CreateArticle(ctx, sess, ArticleInput{
		Title:           &generated.Title,
		Excerpt:         &generated.Excerpt,
		Content:         &generated.Content,
		Tags:            generated.Tags,
		MetaTitle:       &generated.MetaTitle,
		MetaDescription: &generated.MetaDescription,
		CategoryID:      in.CategoryID,
		AIGenerated:     true,
	}, ip)
	if err != nil {
		return GenerateResult{}, err
	}
	result.Draft = &draft
	return result, nil
}

func (s *Service) SuggestTitles(ctx context.Context, sess Session, topic string, n int) ([]string, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return nil, forbidden("You cannot use the writing assistant")
	}
	if !s.ai.Available() {
		return nil, ai.ErrAIUnavailable
	}
	return s.ai.SuggestTitles(ctx, topic, n)
}

func (s *Service) ImproveContent(ctx context.Context, sess Session, markdown, instruction string) (string, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return "", forbidden("You cannot use the writing assistant")
	}
	if !s.ai.Available() {
		return "", ai.ErrAIUnavailable
	}
	return s.ai.Improve(ctx, markdown, instruction)
}

func (s *Service) SuggestSEO(ctx context.Context, sess Session, title, markdown string) (ai.SEOSuggestion, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return ai.SEOSuggestion{}, forbidden("You cannot use the writing assistant")
	}
	if !s.ai.Available() {
		return ai.SEOSuggestion{}, ai.ErrAIUnavailable
	}
	return s.ai.GenerateSEO(ctx, title, markdown)
}

const exportPageSize = 100

// ExportArticles walks every page of the filter and renders CSV or JSON.
func (s *Service) ExportArticles(ctx context.Context, sess Session, format string, filter store.ArticleFilter, ip string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil || parsed == export.FormatPDF {
		return nil, export.ErrUnsupportedFormat
	}
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor {
		filter.CreatedBy = sess.UserID
	}
	filter.Limit = exportPageSize
	all := make([]store.Article, 0)
	for page := 1; ; page++ {
		filter.Page = page
		items, info, err := s.store.ListArticles(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if page >= info.TotalPages || len(items) == 0 {
			break
		}
	}
	result, err := export.Articles(parsed, all, s.now())
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, sess, "article.export", "article", "", map[string]any{"count": len(all), "format": string(parsed)}, ip)
	return result, nil
}

func (s *Service) ExportComments(ctx context.Context, sess Session, format string, filter store.CommentFilter, ip string) (*export.Result, error) {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return nil, forbidden("You cannot moderate comments")
	}
	parsed, err := export.ParseFormat(format)
	if err != nil || parsed == export.FormatPDF {
		return nil, export.ErrUnsupportedFormat
	}
	filter.Limit = exportPageSize
	all := make([]store.Comment, 0)
	for page := 1; ; page++ {
		filter.Page = page
		items, info, err := s.store.ListComments(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if page >= info.TotalPages || len(items) == 0 {
			break
		}
	}
	result, err := export.Comments(parsed, all, s.now())
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, sess, "comment.export", "comment", "", map[string]any{"count": len(all), "format": string(parsed)}, ip)
	return result, nil
}

func (s *Service) ArticlePDF(ctx context.Context, sess Session, articleID string) (*export.Result, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Article")
		}
		return nil, err
	}
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor && !s.canEdit(sess, article) {
		return nil, notFound("Article")
	}
	return s.export.ArticlePDF(ctx, article)
}
