package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"quill/api/internal/content"
	"quill/api/internal/logging"
	"quill/api/internal/metrics"
	"quill/api/internal/rbac"
	"quill/api/internal/revision"
	"quill/api/internal/store"
)

const (
	maxTitleLength   = 200
	maxExcerptLength = 500
	excerptLength    = 200
	relatedDefault   = 4
	relatedMax       = 12
)

// ArticleInput carries create and update payloads. Nil fields are left
// unchanged on update.
type ArticleInput struct {
	Title           *string    `json:"title"`
	Slug            *string    `json:"slug"`
	Excerpt         *string    `json:"excerpt"`
	Content         *string    `json:"content"`
	CoverImageURL   *string    `json:"coverImageUrl"`
	CategoryID      *string    `json:"categoryId"`
	AuthorID        *string    `json:"authorId"`
	Tags            []string   `json:"tags"`
	Featured        *bool      `json:"featured"`
	MetaTitle       *string    `json:"metaTitle"`
	MetaDescription *string    `json:"metaDescription"`
	Status          *string    `json:"status"`
	ScheduledAt     *time.Time `json:"scheduledAt"`
	AIGenerated     bool       `json:"-"`
}

func snapshotOf(a store.Article) revision.Snapshot {
	return revision.Snapshot{
		Title:           a.Title,
		Excerpt:         a.Excerpt,
		Content:         a.Content,
		CategoryID:      derefString(a.CategoryID),
		Tags:            a.Tags,
		MetaTitle:       a.MetaTitle,
		MetaDescription: a.MetaDescription,
		CoverImageURL:   a.CoverImageURL,
	}
}

// canEdit reports whether sess may change article. Authors only touch their own.
func (s *Service) canEdit(sess Session, article store.Article) bool {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return false
	}
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor {
		return article.CreatedBy != nil && *article.CreatedBy == sess.UserID
	}
	return true
}

func (s *Service) ListArticles(ctx context.Context, sess Session, filter store.ArticleFilter) ([]ArticleView, store.Page, error) {
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor {
		filter.CreatedBy = sess.UserID
	}
	items, page, err := s.store.ListArticles(ctx, filter)
	if err != nil {
		return nil, store.Page{}, err
	}
	return articleViews(items), page, nil
}

func (s *Service) loadEditable(ctx context.Context, sess Session, articleID string) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Article{}, notFound("Article")
		}
		return store.Article{}, err
	}
	if !s.canEdit(sess, article) {
		return store.Article{}, forbidden("You can only edit your own articles")
	}
	return article, nil
}

func (s *Service) GetArticle(ctx context.Context, sess Session, articleID string) (ArticleView, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNotFound(err) {
			return ArticleView{}, notFound("Article")
		}
		return ArticleView{}, err
	}
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor && !s.canEdit(sess, article) {
		return ArticleView{}, notFound("Article")
	}
	return articleView(article, true), nil
}

func (s *Service) validateArticle(ctx context.Context, article store.Article) error {
	details := map[string]string{}
	if strings.TrimSpace(article.Title) == "" {
		details["title"] = "title is required"
	} else if utf8.RuneCountInString(article.Title) > maxTitleLength {
		details["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(article.Excerpt) > maxExcerptLength {
		details["excerpt"] = fmt.Sprintf("excerpt must be at most %d characters", maxExcerptLength)
	}
	if article.CategoryID != nil {
		if _, err := s.store.GetCategory(ctx, *article.CategoryID); err != nil {
			if !store.IsNotFound(err) {
				return err
			}
			details["categoryId"] = "category does not exist"
		}
	}
	if article.AuthorID != nil {
		if _, err := s.store.GetAuthor(ctx, *article.AuthorID); err != nil {
			if !store.IsNotFound(err) {
				return err
			}
			details["authorId"] = "author does not exist"
		}
	}
	if len(details) > 0 {
		return validationError("Article is invalid", details)
	}
	return nil
}

// render derives the computed columns from the markdown body.
func render(article *store.Article) error {
	html, err := content.RenderMarkdown(article.Content)
	if err != nil {
		return err
	}
	article.ContentHTML = html
	article.ReadingTime = content.ReadingTime(article.Content)
	if strings.TrimSpace(article.Excerpt) == "" {
		article.Excerpt = content.Excerpt(article.Content, excerptLength)
	}
	article.Tags = content.NormalizeTags(article.Tags)
	return nil
}

func (s *Service) uniqueSlug(ctx context.Context, source, excludeID string) (string, error) {
	return content.UniqueSlug(ctx, content.Slugify(source), func(ctx context.Context, candidate string) (bool, error) {
		return s.store.SlugExists(ctx, candidate, excludeID)
	})
}

func applyInput(article *store.Article, in ArticleInput) {
	if in.Title != nil {
		article.Title = strings.TrimSpace(*in.Title)
	}
	if in.Excerpt != nil {
		article.Excerpt = strings.TrimSpace(*in.Excerpt)
	}
	if in.Content != nil {
		article.Content = *in.Content
	}
	if in.CoverImageURL != nil {
		article.CoverImageURL = strings.TrimSpace(*in.CoverImageURL)
	}
	if in.CategoryID != nil {
		article.CategoryID = stringPtr(*in.CategoryID)
	}
	if in.AuthorID != nil {
		article.AuthorID = stringPtr(*in.AuthorID)
	}
	if in.Tags != nil {
		article.Tags = in.Tags
	}
	if in.Featured != nil {
		article.Featured = *in.Featured
	}
	if in.MetaTitle != nil {
		article.MetaTitle = strings.TrimSpace(*in.MetaTitle)
	}
	if in.MetaDescription != nil {
		article.MetaDescription = strings.TrimSpace(*in.MetaDescription)
	}
}

// CreateArticle stores a new article and records it as version 1.
func (s *Service) CreateArticle(ctx context.Context, sess Session, in ArticleInput, ip string) (ArticleView, error) {
	if !s.Can(sess.Role, rbac.ActionWrite) {
		return ArticleView{}, forbidden("You cannot create articles")
	}
	now := s.now()
	article := store.Article{Status: string(content.StatusDraft), AIGenerated: in.AIGenerated}
	applyInput(&article, in)
	if article.AuthorID == nil {
		if author, err := s.store.GetAuthorByUserID(ctx, sess.UserID); err == nil {
			article.AuthorID = &author.ID
		}
	}
	if err := s.validateArticle(ctx, article); err != nil {
		return ArticleView{}, err
	}
	if err := render(&article); err != nil {
		return ArticleView{}, err
	}

	slug, err := s.uniqueSlug(ctx, firstNonBlank(derefString(in.Slug), article.Title), "")
	if err != nil {
		return ArticleView{}, err
	}
	article.Slug = slug

	if in.Status != nil && *in.Status != string(content.StatusDraft) {
		to, err := content.ParseStatus(*in.Status)
		if err != nil {
			return ArticleView{}, validationError(err.Error(), nil)
		}
		if !s.Can(sess.Role, rbac.ActionPublish) {
			return ArticleView{}, forbidden("You cannot publish articles")
		}
		stamps, err := content.ApplyTransition(content.StatusDraft, to, content.Timestamps{}, in.ScheduledAt, now)
		if err != nil {
			return ArticleView{}, err
		}
		article.Status = string(to)
		article.ScheduledAt, article.PublishedAt, article.ArchivedAt = stamps.ScheduledAt, stamps.PublishedAt, stamps.ArchivedAt
	}

	userID := sess.UserID
	article.CreatedBy = &userID
	article.UpdatedBy = &userID
	article.Version = 1

	created, err := s.store.InsertArticle(ctx, article)
	if err != nil {
		return ArticleView{}, err
	}
	created = s.snapshot(ctx, sess, created, "Create article")

	s.recordActivity(ctx, sess, "article.create", "article", created.ID, map[string]any{"title": created.Title, "status": created.Status}, ip)
	s.afterArticleChange(ctx, created)
	return articleView(created, true), nil
}

// snapshot commits the article's versioned fields and stores the resulting
// version number. Revision failures never fail the edit itself.
func (s *Service) snapshot(ctx context.Context, sess Session, article store.Article, message string) store.Article {
	version, err := s.revisions.Commit(article.ID, snapshotOf(article), firstNonBlank(sess.UserName, "system"), message)
	if errors.Is(err, revision.ErrNoChanges) {
		return article
	}
	if err != nil {
		logging.FromContext(ctx).Warn("snapshot article", zap.String("article_id", article.ID), zap.Error(err))
		return article
	}
	if article.Version == version.Number && article.RevisionHash == version.Hash {
		return article
	}
	article.Version = version.Number
	article.RevisionHash = version.Hash
	updated, err := s.store.UpdateArticle(ctx, article)
	if err != nil {
		logging.FromContext(ctx).Warn("store article version", zap.String("article_id", article.ID), zap.Error(err))
		return article
	}
	return updated
}

func (s *Service) UpdateArticle(ctx context.Context, sess Session, articleID string, in ArticleInput, ip string) (ArticleView, error) {
	current, err := s.loadEditable(ctx, sess, articleID)
	if err != nil {
		return ArticleView{}, err
	}
	next := current
	applyInput(&next, in)
	if err := s.validateArticle(ctx, next); err != nil {
		return ArticleView{}, err
	}
	if in.Content != nil && in.Excerpt == nil && current.Excerpt == content.Excerpt(current.Content, excerptLength) {
		// The excerpt was derived, so it follows the new body.
		next.Excerpt = ""
	}
	if err := render(&next); err != nil {
		return ArticleView{}, err
	}
	if in.Slug != nil && content.Slugify(*in.Slug) != current.Slug {
		slug, err := s.uniqueSlug(ctx, *in.Slug, current.ID)
		if err != nil {
			return ArticleView{}, err
		}
		next.Slug = slug
	}

	reschedule := in.Status != nil && *in.Status == string(content.StatusScheduled) && in.ScheduledAt != nil
	if in.Status != nil && (*in.Status != current.Status || reschedule) {
		to, err := content.ParseStatus(*in.Status)
		if err != nil {
			return ArticleView{}, validationError(err.Error(), nil)
		}
		if !s.Can(sess.Role, rbac.ActionPublish) {
			return ArticleView{}, forbidden("You cannot change the publication status")
		}
		stamps, err := content.ApplyTransition(content.Status(current.Status), to, timestampsOf(current), in.ScheduledAt, s.now())
		if err != nil {
			return ArticleView{}, err
		}
		next.Status = string(to)
		next.ScheduledAt, next.PublishedAt, next.ArchivedAt = stamps.ScheduledAt, stamps.PublishedAt, stamps.ArchivedAt
	}

	userID := sess.UserID
	next.UpdatedBy = &userID
	updated, err := s.store.UpdateArticle(ctx, next)
	if err != nil {
		return ArticleView{}, err
	}
	if revision.HasChanges(snapshotOf(current), snapshotOf(updated)) {
		updated = s.snapshot(ctx, sess, updated, "Update article")
	}

	s.recordActivity(ctx, sess, "article.update", "article", updated.ID, map[string]any{"title": updated.Title}, ip)
	s.afterArticleChange(ctx, updated)
	return articleView(updated, true), nil
}

func timestampsOf(a store.Article) content.Timestamps {
	return content.Timestamps{ScheduledAt: a.ScheduledAt, PublishedAt: a.PublishedAt, ArchivedAt: a.ArchivedAt}
}

func (s *Service) DeleteArticle(ctx context.Context, sess Session, articleID, ip string) error {
	article, err := s.loadEditable(ctx, sess, articleID)
	if err != nil {
		return err
	}
	if article.Status == string(content.StatusPublished) && !s.Can(sess.Role, rbac.ActionPublish) {
		return forbidden("You cannot delete published articles")
	}
	if err := s.store.DeleteArticle(ctx, articleID); err != nil {
		return err
	}
	if err := s.revisions.Remove(articleID); err != nil {
		logging.FromContext(ctx).Warn("remove article history", zap.String("article_id", articleID), zap.Error(err))
	}
	s.search.DeleteArticle(articleID)
	s.invalidatePublic(ctx)
	s.recordActivity(ctx, sess, "article.delete", "article", articleID, map[string]any{"title": article.Title}, ip)
	return nil
}

// Lifecycle actions exposed as POST /api/articles/{id}/{action}.
const (
	ActionPublish   = "publish"
	ActionUnpublish = "unpublish"
	ActionSchedule  = "schedule"
	ActionArchive   = "archive"
	ActionRestore   = "restore"
)

var actionTargets = map[string]content.Status{
	ActionPublish:   content.StatusPublished,
	ActionUnpublish: content.StatusDraft,
	ActionSchedule:  content.StatusScheduled,
	ActionArchive:   content.StatusArchived,
	ActionRestore:   content.StatusDraft,
}

// ChangeStatus applies a lifecycle action after checking the transition table.
func (s *Service) ChangeStatus(ctx context.Context, sess Session, articleID, action string, scheduledAt *time.Time, ip string) (ArticleView, error) {
	to, ok := actionTargets[action]
	if !ok {
		return ArticleView{}, notFound("Action")
	}
	if !s.Can(sess.Role, rbac.ActionPublish) {
		return ArticleView{}, forbidden("You cannot change the publication status")
	}
	article, err := s.loadEditable(ctx, sess, articleID)
	if err != nil {
		return ArticleView{}, err
	}
	if action == ActionRestore && article.Status != string(content.StatusArchived) {
		return ArticleView{}, domainError(422, "INVALID_TRANSITION", "Only archived articles can be restored", nil)
	}

	stamps, err := content.ApplyTransition(content.Status(article.Status), to, timestampsOf(article), scheduledAt, s.now())
	if err != nil {
		return ArticleView{}, err
	}
	if err := s.store.SetArticleStatus(ctx, article.ID, string(to), stamps.ScheduledAt, stamps.PublishedAt, stamps.ArchivedAt, sess.UserID); err != nil {
		return ArticleView{}, err
	}
	updated, err := s.store.GetArticle(ctx, article.ID)
	if err != nil {
		return ArticleView{}, err
	}

	details := map[string]any{"from": article.Status, "to": updated.Status}
	if updated.ScheduledAt != nil {
		details["scheduledAt"] = updated.ScheduledAt.UTC().Format(time.RFC3339)
	}
	s.recordActivity(ctx, sess, "article."+action, "article", updated.ID, details, ip)
	s.afterArticleChange(ctx, updated)
	return articleView(updated, true), nil
}

// DuplicateArticle copies an article into a new draft.
func (s *Service) DuplicateArticle(ctx context.Context, sess Session, articleID, ip string) (ArticleView, error) {
	source, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNotFound(err) {
			return ArticleView{}, notFound("Article")
		}
		return ArticleView{}, err
	}
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor && !s.canEdit(sess, source) {
		return ArticleView{}, notFound("Article")
	}
	title := source.Title + " (Copy)"
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	tags := append([]string(nil), source.Tags...)
	featured := false
	draft := string(content.StatusDraft)
	return s.CreateArticle(ctx, sess, ArticleInput{
		Title:           &title,
		Excerpt:         &source.Excerpt,
		Content:         &source.Content,
		CoverImageURL:   &source.CoverImageURL,
		CategoryID:      source.CategoryID,
		AuthorID:        source.AuthorID,
		Tags:            tags,
		Featured:        &featured,
		MetaTitle:       &source.MetaTitle,
		MetaDescription: &source.MetaDescription,
		Status:          &draft,
	}, ip)
}

type BulkResult struct {
	Processed int               `json:"processed"`
	Failed    map[string]string `json:"failed"`
}

// BulkArticles applies one action to many articles, collecting per-item failures.
func (s *Service) BulkArticles(ctx context.Context, sess Session, ids []string, action, ip string) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, validationError("ids are required", nil)
	}
	if len(ids) > 100 {
		return BulkResult{}, validationError("at most 100 articles per request", nil)
	}
	if action != "delete" {
		if _, ok := actionTargets[action]; !ok || action == ActionSchedule {
			return BulkResult{}, validationError("unsupported bulk action", map[string]any{"allowed": []string{ActionPublish, ActionUnpublish, ActionArchive, ActionRestore, "delete"}})
		}
	}

	result := BulkResult{Failed: map[string]string{}}
	for _, id := range ids {
		var err error
		if action == "delete" {
			err = s.DeleteArticle(ctx, sess, id, ip)
		} else {
			_, err = s.ChangeStatus(ctx, sess, id, action, nil, ip)
		}
		if err != nil {
			_, _, message, _ := mapError(err)
			result.Failed[id] = message
			continue
		}
		result.Processed++
	}
	return result, nil
}

type VersionDetail struct {
	Version  revision.Version       `json:"version"`
	Snapshot revision.Snapshot      `json:"snapshot"`
	Changes  []revision.FieldChange `json:"changes"`
}

func (s *Service) ArticleVersions(ctx context.Context, sess Session, articleID string, limit int) ([]revision.Version, error) {
	if _, err := s.GetArticle(ctx, sess, articleID); err != nil {
		return nil, err
	}
	versions, err := s.revisions.History(articleID, limit)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []revision.Version{}
	}
	return versions, nil
}

// ArticleVersion returns one snapshot and what differs from the current article.
func (s *Service) ArticleVersion(ctx context.Context, sess Session, articleID, hash string) (VersionDetail, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		if store.IsNotFound(err) {
			return VersionDetail{}, notFound("Article")
		}
		return VersionDetail{}, err
	}
	if rbac.Normalize(sess.Role) == rbac.RoleAuthor && !s.canEdit(sess, article) {
		return VersionDetail{}, notFound("Article")
	}
	snap, version, err := s.revisions.Get(articleID, hash)
	if err != nil {
		if errors.Is(err, revision.ErrVersionUnknown) || errors.Is(err, revision.ErrNoHistory) {
			return VersionDetail{}, notFound("Version")
		}
		return VersionDetail{}, err
	}
	changes := revision.Diff(snap, snapshotOf(article))
	if changes == nil {
		changes = []revision.FieldChange{}
	}
	return VersionDetail{Version: version, Snapshot: snap, Changes: changes}, nil
}

// RestoreVersion copies a snapshot back onto the article as a new version.
func (s *Service) RestoreVersion(ctx context.Context, sess Session, articleID, hash, ip string) (ArticleView, error) {
	current, err := s.loadEditable(ctx, sess, articleID)
	if err != nil {
		return ArticleView{}, err
	}
	snap, version, err := s.revisions.Get(articleID, hash)
	if err != nil {
		if errors.Is(err, revision.ErrVersionUnknown) || errors.Is(err, revision.ErrNoHistory) {
			return ArticleView{}, notFound("Version")
		}
		return ArticleView{}, err
	}

	next := current
	next.Title = snap.Title
	next.Excerpt = snap.Excerpt
	next.Content = snap.Content
	next.CategoryID = stringPtr(snap.CategoryID)
	next.Tags = snap.Tags
	next.MetaTitle = snap.MetaTitle
	next.MetaDescription = snap.MetaDescription
	next.CoverImageURL = snap.CoverImageURL
	if next.CategoryID != nil {
		if _, err := s.store.GetCategory(ctx, *next.CategoryID); err != nil {
			// The category was deleted since; keep the current one.
			next.CategoryID = current.CategoryID
		}
	}
	if err := render(&next); err != nil {
		return ArticleView{}, err
	}
	userID := sess.UserID
	next.UpdatedBy = &userID

	updated, err := s.store.UpdateArticle(ctx, next)
	if err != nil {
		return ArticleView{}, err
	}
	updated = s.snapshot(ctx, sess, updated, fmt.Sprintf("Restore version %d", version.Number))

	s.recordActivity(ctx, sess, "article.restore_version", "article", updated.ID, map[string]any{"version": version.Number, "hash": version.Hash}, ip)
	s.afterArticleChange(ctx, updated)
	return articleView(updated, true), nil
}

// PublishDue publishes every scheduled article whose time has come. It is the
// scheduler's job and backs POST /api/articles/publish-due.
func (s *Service) PublishDue(ctx context.Context) (int, error) {
	ids, err := s.store.PublishDueArticles(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	logger := logging.FromContext(ctx)
	system := Session{UserName: "scheduler"}
	for _, id := range ids {
		article, err := s.store.GetArticle(ctx, id)
		if err != nil {
			logger.Warn("load published article", zap.String("article_id", id), zap.Error(err))
			continue
		}
		s.search.IndexArticle(article)
		s.recordActivity(ctx, system, "article.publish", "article", id, map[string]any{"title": article.Title, "scheduled": true}, "")
	}
	s.invalidatePublic(ctx)
	metrics.RecordScheduledPublications(len(ids))
	logger.Info("published scheduled articles", zap.Int("count", len(ids)))
	return len(ids), nil
}
