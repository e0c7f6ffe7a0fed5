package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"quill/api/internal/content"
	"quill/api/internal/feed"
	"quill/api/internal/logging"
	"quill/api/internal/rbac"
	"quill/api/internal/search"
	"quill/api/internal/seo"
	"quill/api/internal/store"
)

const (
	publicCachePrefix = "public:"
	feedSize          = 20
)

type publicPage struct {
	Items []ArticleView `json:"items"`
	Page  store.Page    `json:"page"`
}

// PublicArticles lists published articles. Results are cached until the next
// content mutation.
func (s *Service) PublicArticles(ctx context.Context, filter store.ArticleFilter) ([]ArticleView, store.Page, error) {
	filter.Status = string(content.StatusPublished)
	filter.CreatedBy = ""
	if filter.Limit <= 0 {
		if values, err := s.Settings(ctx); err == nil {
			if perPage, ok := values["posts_per_page"].(int); ok {
				filter.Limit = perPage
			}
		}
	}
	key := publicCachePrefix + "articles:" + filterKey(filter)

	var cached publicPage
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached.Items, cached.Page, nil
	}

	items, page, err := s.store.ListArticles(ctx, filter)
	if err != nil {
		return nil, store.Page{}, err
	}
	views := make([]ArticleView, 0, len(items))
	for _, item := range items {
		views = append(views, publicArticleView(item, false))
	}
	s.cache.SetJSON(ctx, key, publicPage{Items: views, Page: page})
	return views, page, nil
}

func filterKey(f store.ArticleFilter) string {
	featured := ""
	if f.Featured != nil {
		featured = fmt.Sprint(*f.Featured)
	}
	return strings.Join([]string{
		f.CategoryID, f.CategorySlug, f.AuthorID, strings.ToLower(f.Tag), strings.ToLower(strings.TrimSpace(f.Query)),
		featured, f.Sort, f.Order, fmt.Sprint(f.Page), fmt.Sprint(f.Limit),
	}, "|")
}

func (s *Service) publishedBySlug(ctx context.Context, slug string) (store.Article, error) {
	article, err := s.store.GetArticleBySlug(ctx, slug)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Article{}, notFound("Article")
		}
		return store.Article{}, err
	}
	if article.Status != string(content.StatusPublished) {
		return store.Article{}, notFound("Article")
	}
	return article, nil
}

// PublicArticle returns one published article and counts the view.
func (s *Service) PublicArticle(ctx context.Context, slug string) (ArticleView, error) {
	article, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return ArticleView{}, err
	}
	if err := s.store.IncrementViews(ctx, article.ID); err != nil {
		logging.FromContext(ctx).Warn("increment views", zap.String("article_id", article.ID), zap.Error(err))
	} else {
		article.ViewCount++
	}
	return publicArticleView(article, true), nil
}

func (s *Service) RelatedArticles(ctx context.Context, slug string, limit int) ([]ArticleView, error) {
	if limit <= 0 {
		limit = relatedDefault
	}
	if limit > relatedMax {
		limit = relatedMax
	}
	article, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListRelatedCandidates(ctx, article, 50)
	if err != nil {
		return nil, err
	}
	scored := content.ScoreRelated(article, candidates, s.now(), limit)
	views := make([]ArticleView, 0, len(scored))
	for _, item := range scored {
		views = append(views, publicArticleView(item.Article, false))
	}
	return views, nil
}

// ArticleMeta renders Open Graph, Twitter Card and JSON-LD metadata.
func (s *Service) ArticleMeta(ctx context.Context, slug string) (seo.Result, error) {
	article, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return seo.Result{}, err
	}
	return seo.ForArticle(article, s.site(ctx), s.settingString(ctx, "social.twitter")).Render()
}

func (s *Service) PublicCategories(ctx context.Context) ([]CategoryView, error) {
	key := publicCachePrefix + "categories"
	var cached []CategoryView
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	items, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]CategoryView, 0, len(items))
	for _, item := range items {
		views = append(views, categoryView(item))
	}
	s.cache.SetJSON(ctx, key, views)
	return views, nil
}

func (s *Service) RSS(ctx context.Context) ([]byte, error) {
	key := publicCachePrefix + "rss"
	if data, ok := s.cache.Get(ctx, key); ok {
		return data, nil
	}
	articles, err := s.store.ListPublishedArticles(ctx, feedSize)
	if err != nil {
		return nil, err
	}
	doc, err := feed.RSS(s.site(ctx), articles, s.now())
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, []byte(doc))
	return []byte(doc), nil
}

func (s *Service) Sitemap(ctx context.Context) ([]byte, error) {
	key := publicCachePrefix + "sitemap"
	if data, ok := s.cache.Get(ctx, key); ok {
		return data, nil
	}
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	articles, err := s.store.ListPublishedArticles(ctx, 0)
	if err != nil {
		return nil, err
	}
	doc, err := feed.Sitemap(s.site(ctx), categories, articles, s.now())
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, doc)
	return doc, nil
}

// Search runs a full-text query. Anonymous callers only ever see published
// articles.
func (s *Service) Search(ctx context.Context, q search.Query, public bool) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError("Search query is required", map[string]string{"q": "required"})
	}
	if q.Limit <= 0 || q.Limit > 50 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if public {
		q.PublishedOnly = true
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Reindex(ctx context.Context, sess Session, ip string) (int, error) {
	if !s.Can(sess.Role, rbac.ActionAdmin) {
		return 0, forbidden("Only admins can rebuild the search index")
	}
	count, err := s.search.ReindexAll(ctx)
	if err != nil {
		return 0, err
	}
	s.recordActivity(ctx, sess, "search.reindex", "search", "", map[string]any{"count": count}, ip)
	return count, nil
}

type DashboardStats struct {
	Articles struct {
		Total      int   `json:"total"`
		Draft      int   `json:"draft"`
		Scheduled  int   `json:"scheduled"`
		Published  int   `json:"published"`
		Archived   int   `json:"archived"`
		TotalViews int64 `json:"totalViews"`
	} `json:"articles"`
	Comments struct {
		Pending  int `json:"pending"`
		Approved int `json:"approved"`
		Spam     int `json:"spam"`
		Rejected int `json:"rejected"`
	} `json:"comments"`
	Subscribers struct {
		Active  int `json:"active"`
		Pending int `json:"pending"`
	} `json:"subscribers"`
	RecentActivity []ActivityView `json:"recentActivity"`
}

func (s *Service) DashboardStats(ctx context.Context, sess Session) (DashboardStats, error) {
	var stats DashboardStats
	articles, err := s.store.ArticleStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Articles.Total = articles.Total
	stats.Articles.Draft = articles.Draft
	stats.Articles.Scheduled = articles.Scheduled
	stats.Articles.Published = articles.Published
	stats.Articles.Archived = articles.Archived
	stats.Articles.TotalViews = articles.TotalViews

	comments, err := s.store.CommentStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Comments.Pending = comments.Pending
	stats.Comments.Approved = comments.Approved
	stats.Comments.Spam = comments.Spam
	stats.Comments.Rejected = comments.Rejected

	if stats.Subscribers.Active, err = s.store.CountSubscribers(ctx, "active"); err != nil {
		return stats, err
	}
	if stats.Subscribers.Pending, err = s.store.CountSubscribers(ctx, "pending"); err != nil {
		return stats, err
	}

	stats.RecentActivity = []ActivityView{}
	if s.Can(sess.Role, rbac.ActionManage) {
		recent, _, err := s.store.ListActivity(ctx, store.ActivityFilter{Page: 1, Limit: 10})
		if err != nil {
			return stats, err
		}
		for _, entry := range recent {
			stats.RecentActivity = append(stats.RecentActivity, activityView(entry))
		}
	}
	return stats, nil
}

func (s *Service) Activity(ctx context.Context, sess Session, filter store.ActivityFilter) ([]ActivityView, store.Page, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		filter.UserID = sess.UserID
	}
	items, page, err := s.store.ListActivity(ctx, filter)
	if err != nil {
		return nil, store.Page{}, err
	}
	views := make([]ActivityView, 0, len(items))
	for _, item := range items {
		views = append(views, activityView(item))
	}
	return views, page, nil
}
