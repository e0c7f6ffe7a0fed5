package search

import (
	"context"

	"go.uber.org/zap"

	"quill/api/internal/store"
)

type engine interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  engine
	fallback Searcher
	loader   func(ctx context.Context) ([]ArticleRecord, error)
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{logger: logger.Named("search")}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Failures degrade to an empty result set rather than an error.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexArticle pushes one article to Meilisearch without blocking the caller.
// PG FTS needs no indexing: the fts column is generated.
func (s *Service) IndexArticle(article store.Article) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	record := RecordFromArticle(article)
	go func() {
		if err := s.primary.IndexArticles([]ArticleRecord{record}); err != nil {
			s.logger.Warn("index article", zap.String("article_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteArticle removes an article from the index (fire-and-forget).
func (s *Service) DeleteArticle(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteArticle(id); err != nil {
			s.logger.Warn("delete article from index", zap.String("article_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll reads every article from Postgres and pushes it to Meilisearch.
// Called at startup when Meilisearch is configured.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if s.primary == nil || !s.primary.Healthy() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexArticles(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
