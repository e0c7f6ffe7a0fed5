package app

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quill/api/internal/content"
	"quill/api/internal/logging"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type CategoryInput struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	ParentID    *string `json:"parentId"`
	SortOrder   *int    `json:"sortOrder"`
}

func (s *Service) ListCategories(ctx context.Context) ([]CategoryView, error) {
	items, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]CategoryView, 0, len(items))
	for _, item := range items {
		views = append(views, categoryView(item))
	}
	return views, nil
}

func (s *Service) GetCategory(ctx context.Context, categoryID string) (CategoryView, error) {
	item, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		if store.IsNotFound(err) {
			return CategoryView{}, notFound("Category")
		}
		return CategoryView{}, err
	}
	return categoryView(item), nil
}

func (s *Service) applyCategory(ctx context.Context, item *store.Category, in CategoryInput) error {
	details := map[string]string{}
	if in.Name != nil {
		item.Name = strings.TrimSpace(*in.Name)
	}
	if item.Name == "" {
		details["name"] = "name is required"
	} else if utf8.RuneCountInString(item.Name) > 100 {
		details["name"] = "name must be at most 100 characters"
	}
	if in.Description != nil {
		item.Description = strings.TrimSpace(*in.Description)
	}
	if in.Color != nil {
		item.Color = strings.TrimSpace(*in.Color)
	}
	if item.Color != "" && !colorPattern.MatchString(item.Color) {
		details["color"] = "color must be a hex value like #3b82f6"
	}
	if in.SortOrder != nil {
		item.SortOrder = *in.SortOrder
	}
	if in.ParentID != nil {
		item.ParentID = stringPtr(*in.ParentID)
	}
	if item.ParentID != nil {
		if *item.ParentID == item.ID {
			details["parentId"] = "a category cannot be its own parent"
		} else if _, err := s.store.GetCategory(ctx, *item.ParentID); err != nil {
			if !store.IsNotFound(err) {
				return err
			}
			details["parentId"] = "parent category does not exist"
		}
	}
	if len(details) > 0 {
		return validationError("Category is invalid", details)
	}

	if in.Slug != nil || item.Slug == "" {
		slug := content.Slugify(firstNonBlank(derefString(in.Slug), item.Name))
		if slug == "" {
			return validationError("Category is invalid", map[string]string{"slug": "slug is empty"})
		}
		if existing, err := s.store.GetCategoryBySlug(ctx, slug); err == nil && existing.ID != item.ID {
			return conflict("A category with this slug already exists", map[string]string{"slug": slug})
		} else if err != nil && !store.IsNotFound(err) {
			return err
		}
		item.Slug = slug
	}
	return nil
}

func (s *Service) CreateCategory(ctx context.Context, sess Session, in CategoryInput, ip string) (CategoryView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return CategoryView{}, forbidden("You cannot manage categories")
	}
	var item store.Category
	if err := s.applyCategory(ctx, &item, in); err != nil {
		return CategoryView{}, err
	}
	created, err := s.store.InsertCategory(ctx, item)
	if err != nil {
		return CategoryView{}, err
	}
	s.recordActivity(ctx, sess, "category.create", "category", created.ID, map[string]any{"name": created.Name}, ip)
	s.invalidatePublic(ctx)
	return categoryView(created), nil
}

func (s *Service) UpdateCategory(ctx context.Context, sess Session, categoryID string, in CategoryInput, ip string) (CategoryView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return CategoryView{}, forbidden("You cannot manage categories")
	}
	item, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		if store.IsNotFound(err) {
			return CategoryView{}, notFound("Category")
		}
		return CategoryView{}, err
	}
	previousName, previousSlug := item.Name, item.Slug
	if err := s.applyCategory(ctx, &item, in); err != nil {
		return CategoryView{}, err
	}
	updated, err := s.store.UpdateCategory(ctx, item)
	if err != nil {
		return CategoryView{}, err
	}
	s.recordActivity(ctx, sess, "category.update", "category", updated.ID, map[string]any{"name": updated.Name}, ip)
	if updated.Name != previousName || updated.Slug != previousSlug {
		s.reindexCategory(ctx, updated.ID)
	}
	s.invalidatePublic(ctx)
	return categoryView(updated), nil
}

// DeleteCategory refuses to orphan articles unless reassignTo names another
// category that takes them over.
func (s *Service) DeleteCategory(ctx context.Context, sess Session, categoryID, reassignTo, ip string) error {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return forbidden("You cannot manage categories")
	}
	item, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Category")
		}
		return err
	}
	reassignTo = strings.TrimSpace(reassignTo)
	if reassignTo != "" {
		if reassignTo == categoryID {
			return validationError("Cannot reassign articles to the category being deleted", nil)
		}
		if _, err := s.store.GetCategory(ctx, reassignTo); err != nil {
			if store.IsNotFound(err) {
				return validationError("Reassignment category does not exist", map[string]string{"reassign": reassignTo})
			}
			return err
		}
	} else {
		count, err := s.store.CategoryArticleCount(ctx, categoryID)
		if err != nil {
			return err
		}
		if count > 0 {
			return domainError(http.StatusConflict, "CATEGORY_IN_USE", "Category still has articles", map[string]any{"articleCount": count})
		}
	}
	if err := s.store.DeleteCategory(ctx, categoryID, reassignTo); err != nil {
		return err
	}
	details := map[string]any{"name": item.Name}
	if reassignTo != "" {
		details["reassignedTo"] = reassignTo
		s.reindexCategory(ctx, reassignTo)
	}
	s.recordActivity(ctx, sess, "category.delete", "category", categoryID, details, ip)
	s.invalidatePublic(ctx)
	return nil
}

type AuthorInput struct {
	Name      *string `json:"name"`
	Slug      *string `json:"slug"`
	Email     *string `json:"email"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatarUrl"`
	Website   *string `json:"website"`
	Twitter   *string `json:"twitter"`
	UserID    *string `json:"userId"`
}

func (s *Service) ListAuthors(ctx context.Context) ([]AuthorView, error) {
	items, err := s.store.ListAuthors(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]AuthorView, 0, len(items))
	for _, item := range items {
		views = append(views, authorView(item))
	}
	return views, nil
}

func (s *Service) GetAuthor(ctx context.Context, authorID string) (AuthorView, error) {
	item, err := s.store.GetAuthor(ctx, authorID)
	if err != nil {
		if store.IsNotFound(err) {
			return AuthorView{}, notFound("Author")
		}
		return AuthorView{}, err
	}
	return authorView(item), nil
}

func applyAuthor(item *store.Author, in AuthorInput) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&item.Name, in.Name)
	set(&item.Email, in.Email)
	set(&item.Bio, in.Bio)
	set(&item.AvatarURL, in.AvatarURL)
	set(&item.Website, in.Website)
	set(&item.Twitter, in.Twitter)
	if in.UserID != nil {
		item.UserID = stringPtr(*in.UserID)
	}

	details := map[string]string{}
	if item.Name == "" {
		details["name"] = "name is required"
	}
	if item.Email != "" && !validEmail(item.Email) {
		details["email"] = "email is invalid"
	}
	if len(details) > 0 {
		return validationError("Author is invalid", details)
	}
	if in.Slug != nil || item.Slug == "" {
		item.Slug = content.Slugify(firstNonBlank(derefString(in.Slug), item.Name))
	}
	return nil
}

func (s *Service) CreateAuthor(ctx context.Context, sess Session, in AuthorInput, ip string) (AuthorView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return AuthorView{}, forbidden("You cannot manage authors")
	}
	var item store.Author
	if err := applyAuthor(&item, in); err != nil {
		return AuthorView{}, err
	}
	created, err := s.store.InsertAuthor(ctx, item)
	if err != nil {
		return AuthorView{}, err
	}
	s.recordActivity(ctx, sess, "author.create", "author", created.ID, map[string]any{"name": created.Name}, ip)
	s.invalidatePublic(ctx)
	return authorView(created), nil
}

func (s *Service) UpdateAuthor(ctx context.Context, sess Session, authorID string, in AuthorInput, ip string) (AuthorView, error) {
	item, err := s.store.GetAuthor(ctx, authorID)
	if err != nil {
		if store.IsNotFound(err) {
			return AuthorView{}, notFound("Author")
		}
		return AuthorView{}, err
	}
	ownProfile := item.UserID != nil && *item.UserID == sess.UserID
	if !ownProfile && !s.Can(sess.Role, rbac.ActionManage) {
		return AuthorView{}, forbidden("You can only edit your own author profile")
	}
	if ownProfile && !s.Can(sess.Role, rbac.ActionManage) {
		in.UserID = nil
	}
	if err := applyAuthor(&item, in); err != nil {
		return AuthorView{}, err
	}
	updated, err := s.store.UpdateAuthor(ctx, item)
	if err != nil {
		return AuthorView{}, err
	}
	s.recordActivity(ctx, sess, "author.update", "author", updated.ID, map[string]any{"name": updated.Name}, ip)
	s.invalidatePublic(ctx)
	return authorView(updated), nil
}

func (s *Service) DeleteAuthor(ctx context.Context, sess Session, authorID, ip string) error {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return forbidden("You cannot manage authors")
	}
	item, err := s.store.GetAuthor(ctx, authorID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Author")
		}
		return err
	}
	if err := s.store.DeleteAuthor(ctx, authorID); err != nil {
		return err
	}
	s.recordActivity(ctx, sess, "author.delete", "author", authorID, map[string]any{"name": item.Name}, ip)
	s.invalidatePublic(ctx)
	return nil
}

// reindexCategory pushes every article filed under categoryID back to the
// search index so records carry the current category name.
func (s *Service) reindexCategory(ctx context.Context, categoryID string) {
	filter := store.ArticleFilter{CategoryID: categoryID, Limit: store.MaxLimit}
	for page := 1; ; page++ {
		filter.Page = page
		items, info, err := s.store.ListArticles(ctx, filter)
		if err != nil {
			logging.FromContext(ctx).Warn("reindex category articles", zap.String("category_id", categoryID), zap.Error(err))
			return
		}
		for _, article := range items {
			s.search.IndexArticle(article)
		}
		if len(items) == 0 || page >= info.TotalPages {
			return
		}
	}
}
