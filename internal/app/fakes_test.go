package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"quill/api/internal/config"
	"quill/api/internal/email"
	"quill/api/internal/revision"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

type fakeReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// fakeStore is an in-memory dataStore. The *Fn fields override single
// operations when a test needs to inject a failure.
type fakeStore struct {
	mu          sync.Mutex
	seq         int
	users       map[string]store.AdminUser
	articles    map[string]store.Article
	categories  map[string]store.Category
	authors     map[string]store.Author
	comments    map[string]store.Comment
	media       map[string]store.MediaItem
	subscribers map[string]store.Subscriber
	newsletters map[string]store.Newsletter
	settings    map[string]json.RawMessage
	activity    []store.ActivityLog
	refresh     map[string]string
	revoked     map[string]bool
	resets      map[string]*fakeReset

	insertMediaFn func(context.Context, store.MediaItem) (store.MediaItem, error)
	pingFn        func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.AdminUser{},
		articles:    map[string]store.Article{},
		categories:  map[string]store.Category{},
		authors:     map[string]store.Author{},
		comments:    map[string]store.Comment{},
		media:       map[string]store.MediaItem{},
		subscribers: map[string]store.Subscriber{},
		newsletters: map[string]store.Newsletter{},
		settings:    map[string]json.RawMessage{},
		refresh:     map[string]string{},
		revoked:     map[string]bool{},
		resets:      map[string]*fakeReset{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func paginate[T any](items []T, page, limit int) ([]T, store.Page) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], store.NewPage(page, limit, total)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// articles

func (f *fakeStore) ListArticles(_ context.Context, filter store.ArticleFilter) ([]store.Article, store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Article, 0)
	for _, a := range f.articles {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && derefString(a.CreatedBy) != filter.CreatedBy {
			continue
		}
		if filter.CategoryID != "" && derefString(a.CategoryID) != filter.CategoryID {
			continue
		}
		if filter.Tag != "" && !slices.Contains(a.Tags, strings.ToLower(filter.Tag)) {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(a.Title), strings.ToLower(filter.Query)) {
			continue
		}
		items = append(items, a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	page, info := paginate(items, filter.Page, filter.Limit)
	return page, info, nil
}

func (f *fakeStore) GetArticle(_ context.Context, articleID string) (store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[articleID]
	if !ok {
		return store.Article{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) GetArticleBySlug(_ context.Context, slug string) (store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.articles {
		if a.Slug == slug {
			return a, nil
		}
	}
	return store.Article{}, store.ErrNotFound
}

func (f *fakeStore) SlugExists(_ context.Context, slug, excludeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.articles {
		if a.Slug == slug && a.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertArticle(_ context.Context, item store.Article) (store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID("art")
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	f.articles[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateArticle(_ context.Context, item store.Article) (store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.articles[item.ID]; !ok {
		return store.Article{}, store.ErrNotFound
	}
	item.UpdatedAt = time.Now()
	f.articles[item.ID] = item
	return item, nil
}

func (f *fakeStore) SetArticleStatus(_ context.Context, articleID, status string, scheduledAt, publishedAt, archivedAt *time.Time, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[articleID]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = status
	a.ScheduledAt, a.PublishedAt, a.ArchivedAt = scheduledAt, publishedAt, archivedAt
	a.UpdatedBy = &updatedBy
	f.articles[articleID] = a
	return nil
}

func (f *fakeStore) DeleteArticle(_ context.Context, articleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.articles[articleID]; !ok {
		return store.ErrNotFound
	}
	delete(f.articles, articleID)
	return nil
}

func (f *fakeStore) IncrementViews(_ context.Context, articleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.articles[articleID]
	a.ViewCount++
	f.articles[articleID] = a
	return nil
}

func (f *fakeStore) PublishDueArticles(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, a := range f.articles {
		if a.Status == "scheduled" && a.ScheduledAt != nil && !a.ScheduledAt.After(now) {
			at := *a.ScheduledAt
			a.Status = "published"
			a.PublishedAt = &at
			a.ScheduledAt = nil
			f.articles[id] = a
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) ListRelatedCandidates(_ context.Context, target store.Article, limit int) ([]store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Article, 0)
	for _, a := range f.articles {
		if a.ID == target.ID || a.Status != "published" {
			continue
		}
		items = append(items, a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) ListPublishedArticles(ctx context.Context, limit int) ([]store.Article, error) {
	items, _, err := f.ListArticles(ctx, store.ArticleFilter{Status: "published", Limit: 100})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, err
}

func (f *fakeStore) ArticleStats(_ context.Context) (store.ArticleStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats store.ArticleStats
	for _, a := range f.articles {
		stats.Total++
		stats.TotalViews += a.ViewCount
		switch a.Status {
		case "draft":
			stats.Draft++
		case "scheduled":
			stats.Scheduled++
		case "published":
			stats.Published++
		case "archived":
			stats.Archived++
		}
	}
	return stats, nil
}

// categories and authors

func (f *fakeStore) ListCategories(_ context.Context) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Category, 0, len(f.categories))
	for _, c := range f.categories {
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (f *fakeStore) GetCategory(_ context.Context, categoryID string) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[categoryID]
	if !ok {
		return store.Category{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetCategoryBySlug(_ context.Context, slug string) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.categories {
		if c.Slug == slug {
			return c, nil
		}
	}
	return store.Category{}, store.ErrNotFound
}

func (f *fakeStore) InsertCategory(_ context.Context, item store.Category) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID("cat")
	f.categories[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateCategory(_ context.Context, item store.Category) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[item.ID] = item
	return item, nil
}

func (f *fakeStore) CategoryArticleCount(_ context.Context, categoryID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.articles {
		if derefString(a.CategoryID) == categoryID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, categoryID, reassignTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.articles {
		if derefString(a.CategoryID) == categoryID {
			a.CategoryID = stringPtr(reassignTo)
			f.articles[id] = a
		}
	}
	delete(f.categories, categoryID)
	return nil
}

func (f *fakeStore) ListAuthors(_ context.Context) ([]store.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Author, 0, len(f.authors))
	for _, a := range f.authors {
		items = append(items, a)
	}
	return items, nil
}

func (f *fakeStore) GetAuthor(_ context.Context, authorID string) (store.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.authors[authorID]
	if !ok {
		return store.Author{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) GetAuthorByUserID(_ context.Context, userID string) (store.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.authors {
		if derefString(a.UserID) == userID {
			return a, nil
		}
	}
	return store.Author{}, store.ErrNotFound
}

func (f *fakeStore) InsertAuthor(_ context.Context, item store.Author) (store.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID("aut")
	f.authors[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateAuthor(_ context.Context, item store.Author) (store.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authors[item.ID] = item
	return item, nil
}

func (f *fakeStore) DeleteAuthor(_ context.Context, authorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.authors, authorID)
	return nil
}

// comments

func (f *fakeStore) ListComments(_ context.Context, filter store.CommentFilter) ([]store.Comment, store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, c := range f.comments {
		if filter.ArticleID != "" && c.ArticleID != filter.ArticleID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	page, info := paginate(items, filter.Page, filter.Limit)
	return page, info, nil
}

func (f *fakeStore) ListApprovedComments(ctx context.Context, articleID string) ([]store.Comment, error) {
	items, _, err := f.ListComments(ctx, store.CommentFilter{ArticleID: articleID, Status: "approved", Limit: 100})
	return items, err
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) InsertComment(_ context.Context, item store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID("cmt")
	item.CreatedAt = time.Now()
	f.comments[item.ID] = item
	return item, nil
}

func (f *fakeStore) SetCommentStatus(_ context.Context, commentID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	f.comments[commentID] = c
	return nil
}

func (f *fakeStore) BulkSetCommentStatus(_ context.Context, commentIDs []string, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range commentIDs {
		if c, ok := f.comments[id]; ok {
			c.Status = status
			f.comments[id] = c
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) BulkDeleteComments(_ context.Context, commentIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range commentIDs {
		if _, ok := f.comments[id]; ok {
			delete(f.comments, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comments[commentID]; !ok {
		return store.ErrNotFound
	}
	delete(f.comments, commentID)
	return nil
}

func (f *fakeStore) CommentStats(_ context.Context) (store.CommentStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats store.CommentStats
	for _, c := range f.comments {
		switch c.Status {
		case "pending":
			stats.Pending++
		case "approved":
			stats.Approved++
		case "spam":
			stats.Spam++
		case "rejected":
			stats.Rejected++
		}
	}
	return stats, nil
}

// media

func (f *fakeStore) ListMedia(_ context.Context, filter store.MediaFilter) ([]store.MediaItem, store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.MediaItem, 0)
	for _, m := range f.media {
		items = append(items, m)
	}
	page, info := paginate(items, filter.Page, filter.Limit)
	return page, info, nil
}

func (f *fakeStore) GetMedia(_ context.Context, mediaID string) (store.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.media[mediaID]
	if !ok {
		return store.MediaItem{}, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) InsertMedia(ctx context.Context, item store.MediaItem) (store.MediaItem, error) {
	if f.insertMediaFn != nil {
		return f.insertMediaFn(ctx, item)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID("med")
	f.media[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateMediaMeta(_ context.Context, mediaID, altText, caption string) (store.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.media[mediaID]
	if !ok {
		return store.MediaItem{}, store.ErrNotFound
	}
	m.AltText, m.Caption = altText, caption
	f.media[mediaID] = m
	return m, nil
}

func (f *fakeStore) DeleteMedia(_ context.Context, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.media, mediaID)
	return nil
}

// newsletter

func (f *fakeStore) ListSubscribers(ctx context.Context, filter store.SubscriberFilter) ([]store.Subscriber, store.Page, error) {
	items, err := f.ListAllSubscribers(ctx, filter.Status)
	if err != nil {
		return nil, store.Page{}, err
	}
	page, info := paginate(items, filter.Page, filter.Limit)
	return page, info, nil
}

func (f *fakeStore) ListAllSubscribers(_ context.Context, status string) ([]store.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Subscriber, 0)
	for _, s := range f.subscribers {
		if status == "" || s.Status == status {
			items = append(items, s)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Email < items[j].Email })
	return items, nil
}

func (f *fakeStore) ListActiveSubscribers(ctx context.Context) ([]store.Subscriber, error) {
	return f.ListAllSubscribers(ctx, "active")
}

func (f *fakeStore) GetSubscriberByEmail(_ context.Context, address string) (store.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subscribers {
		if s.Email == address {
			return s, nil
		}
	}
	return store.Subscriber{}, store.ErrNotFound
}

func (f *fakeStore) UpsertPendingSubscriber(_ context.Context, item store.Subscriber) (store.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.subscribers {
		if s.Email == item.Email {
			s.Status = "pending"
			s.ConfirmTokenHash = item.ConfirmTokenHash
			s.UnsubscribedAt = nil
			if item.Name != "" {
				s.Name = item.Name
			}
			f.subscribers[id] = s
			return s, nil
		}
	}
	item.ID = f.nextID("sub")
	item.Status = "pending"
	f.subscribers[item.ID] = item
	return item, nil
}

func (f *fakeStore) ConfirmSubscriber(_ context.Context, tokenHash string, now time.Time) (store.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.subscribers {
		if tokenHash != "" && s.ConfirmTokenHash == tokenHash && s.Status == "pending" {
			s.Status = "active"
			s.ConfirmTokenHash = ""
			s.ConfirmedAt = &now
			f.subscribers[id] = s
			return s, nil
		}
	}
	return store.Subscriber{}, store.ErrNotFound
}

func (f *fakeStore) Unsubscribe(_ context.Context, unsubscribeToken string, now time.Time) (store.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.subscribers {
		if s.UnsubscribeToken == unsubscribeToken {
			s.Status = "unsubscribed"
			s.UnsubscribedAt = &now
			f.subscribers[id] = s
			return s, nil
		}
	}
	return store.Subscriber{}, store.ErrNotFound
}

func (f *fakeStore) DeleteSubscriber(_ context.Context, subscriberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[subscriberID]; !ok {
		return store.ErrNotFound
	}
	delete(f.subscribers, subscriberID)
	return nil
}

func (f *fakeStore) CountSubscribers(ctx context.Context, status string) (int, error) {
	items, err := f.ListAllSubscribers(ctx, status)
	return len(items), err
}

func (f *fakeStore) ListNewsletters(_ context.Context) ([]store.Newsletter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Newsletter, 0)
	for _, n := range f.newsletters {
		items = append(items, n)
	}
	return items, nil
}

func (f *fakeStore) GetNewsletter(_ context.Context, newsletterID string) (store.Newsletter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.newsletters[newsletterID]
	if !ok {
		return store.Newsletter{}, store.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) InsertNewsletter(_ context.Context, item store.Newsletter) (store.Newsletter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID("nl")
	item.Status = "draft"
	f.newsletters[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateNewsletter(_ context.Context, item store.Newsletter) (store.Newsletter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.newsletters[item.ID]
	if !ok || current.Status != "draft" {
		return store.Newsletter{}, store.ErrNotFound
	}
	f.newsletters[item.ID] = item
	return item, nil
}

func (f *fakeStore) MarkNewsletterSending(_ context.Context, newsletterID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.newsletters[newsletterID]
	if !ok || (n.Status != "draft" && n.Status != "failed") {
		return false, nil
	}
	n.Status = "sending"
	f.newsletters[newsletterID] = n
	return true, nil
}

func (f *fakeStore) FinishNewsletter(_ context.Context, newsletterID, status string, recipients, failures int, sentAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.newsletters[newsletterID]
	n.Status = status
	n.RecipientCount = recipients
	n.FailureCount = failures
	n.SentAt = sentAt
	f.newsletters[newsletterID] = n
	return nil
}

// users

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.AdminUser{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, address string) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(strings.TrimSpace(address)) {
			return u, nil
		}
	}
	return store.AdminUser{}, store.ErrNotFound
}

func (f *fakeStore) ListUsers(_ context.Context) ([]store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.AdminUser, 0, len(f.users))
	for _, u := range f.users {
		items = append(items, u)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Email < items[j].Email })
	return items, nil
}

func (f *fakeStore) InsertUser(_ context.Context, user store.AdminUser) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.AdminUser{}, fmt.Errorf("admin_users_email_key: %w", store.ErrConflict)
		}
	}
	user.ID = f.nextID("usr")
	user.IsActive = true
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) UpdateUser(_ context.Context, user store.AdminUser) (store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.users[user.ID]
	if !ok {
		return store.AdminUser{}, store.ErrNotFound
	}
	current.DisplayName, current.Role, current.AvatarURL, current.IsActive = user.DisplayName, user.Role, user.AvatarURL, user.IsActive
	f.users[user.ID] = current
	return current, nil
}

func (f *fakeStore) SetPasswordHash(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.LastLoginAt = &at
	f.users[userID] = u
	return nil
}

func (f *fakeStore) DeactivateUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.IsActive = false
	f.users[userID] = u
	for hash, owner := range f.refresh {
		if owner == userID {
			delete(f.refresh, hash)
		}
	}
	return nil
}

func (f *fakeStore) CountAdmins(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.users {
		if u.Role == "admin" && u.IsActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[tokenHash] = &fakeReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumePasswordReset(_ context.Context, tokenHash string, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[tokenHash]
	if !ok || reset.used || now.After(reset.expiresAt) {
		return "", store.ErrNotFound
	}
	reset.used = true
	return reset.userID, nil
}

func (f *fakeStore) PurgeExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for hash, reset := range f.resets {
		if now.After(reset.expiresAt) {
			delete(f.resets, hash)
			n++
		}
	}
	return n, nil
}

// sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) ConsumeRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return "", store.ErrNotFound
	}
	delete(f.refresh, tokenHash)
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// settings and activity

func (f *fakeStore) ListSettings(_ context.Context) ([]store.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Setting, 0, len(f.settings))
	for key, value := range f.settings {
		items = append(items, store.Setting{Key: key, Value: value})
	}
	return items, nil
}

func (f *fakeStore) UpsertSettings(_ context.Context, values map[string]json.RawMessage, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, value := range values {
		f.settings[key] = value
	}
	return nil
}

func (f *fakeStore) InsertActivity(_ context.Context, entry store.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.activity) + 1)
	f.activity = append(f.activity, entry)
	return nil
}

func (f *fakeStore) ListActivity(_ context.Context, filter store.ActivityFilter) ([]store.ActivityLog, store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ActivityLog, 0)
	for i := len(f.activity) - 1; i >= 0; i-- {
		entry := f.activity[i]
		if filter.UserID != "" && derefString(entry.UserID) != filter.UserID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		items = append(items, entry)
	}
	page, info := paginate(items, filter.Page, filter.Limit)
	return page, info, nil
}

func (f *fakeStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.activity))
	for _, entry := range f.activity {
		out = append(out, entry.Action)
	}
	return out
}

// fakeRevisions keeps snapshots in memory.
type fakeRevisions struct {
	mu       sync.Mutex
	versions map[string][]revision.Version
	snaps    map[string]revision.Snapshot
	removed  []string
}

func newFakeRevisions() *fakeRevisions {
	return &fakeRevisions{versions: map[string][]revision.Version{}, snaps: map[string]revision.Snapshot{}}
}

func (f *fakeRevisions) Commit(articleID string, snapshot revision.Snapshot, author, message string) (revision.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.versions[articleID]
	if len(history) > 0 && !revision.HasChanges(f.snaps[history[len(history)-1].Hash], snapshot) {
		return revision.Version{}, revision.ErrNoChanges
	}
	hash := fmt.Sprintf("%s-v%d", articleID, len(history)+1)
	version := revision.Version{Hash: hash, ShortHash: hash, Number: len(history) + 1, Message: message, Author: author}
	f.versions[articleID] = append(history, version)
	f.snaps[hash] = snapshot
	return version, nil
}

func (f *fakeRevisions) History(articleID string, limit int) ([]revision.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.versions[articleID]
	out := make([]revision.Version, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRevisions) Get(articleID, hash string) (revision.Snapshot, revision.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions[articleID] {
		if v.Hash == hash {
			return f.snaps[hash], v, nil
		}
	}
	return revision.Snapshot{}, revision.Version{}, revision.ErrVersionUnknown
}

func (f *fakeRevisions) Remove(articleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.versions, articleID)
	f.removed = append(f.removed, articleID)
	return nil
}

// fakeSender records every message.
type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	fail map[string]bool
}

func (f *fakeSender) IsConfigured() bool { return true }

func (f *fakeSender) Send(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, to := range msg.To {
		if f.fail[to] {
			return errors.New("mailbox unavailable")
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Message(nil), f.sent...)
}

var testNow = time.Now().UTC().Truncate(time.Second)

type testEnv struct {
	svc       *Service
	store     *fakeStore
	revisions *fakeRevisions
	sender    *fakeSender
}

// newTestEnv builds a service over the fakes. Background work runs inline.
// recordingSearch keeps the articles pushed to the index.
type recordingSearch struct {
	mu      sync.Mutex
	indexed []store.Article
	deleted []string
}

func (r *recordingSearch) Search(context.Context, search.Query) search.Response {
	return search.Response{}
}

func (r *recordingSearch) IndexArticle(article store.Article) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, article)
}

func (r *recordingSearch) DeleteArticle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *recordingSearch) ReindexAll(context.Context) (int, error) { return 0, nil }

func (r *recordingSearch) indexedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.indexed))
	for _, a := range r.indexed {
		ids = append(ids, a.ID)
	}
	return ids
}

func newTestEnv() *testEnv {
	fs := newFakeStore()
	revs := newFakeRevisions()
	sender := &fakeSender{}
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		SiteName:   "Quill",
		SiteURL:    "https://blog.example.com",
		AdminURL:   "https://admin.example.com",
	}
	svc := New(cfg, fs, Deps{
		Revisions: revs,
		Mailer:    email.NewMailer(sender, cfg.SiteName, cfg.SiteURL, nil),
	})
	svc.now = func() time.Time { return testNow }
	svc.async = func(fn func()) { fn() }
	return &testEnv{svc: svc, store: fs, revisions: revs, sender: sender}
}

func (e *testEnv) addUser(role string) Session {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	id := e.store.nextID("usr")
	user := store.AdminUser{ID: id, Email: id + "@example.com", DisplayName: "User " + id, Role: role, IsActive: true}
	e.store.users[id] = user
	return Session{UserID: id, UserName: user.DisplayName, Email: user.Email, Role: role}
}

func (e *testEnv) addPublished(title, slug string, categoryID *string, tags ...string) store.Article {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	published := testNow.Add(-time.Hour)
	article := store.Article{
		ID:          e.store.nextID("art"),
		Title:       title,
		Slug:        slug,
		Content:     "Body of " + title,
		ContentHTML: "<p>Body of " + title + "</p>",
		Status:      "published",
		CategoryID:  categoryID,
		Tags:        tags,
		PublishedAt: &published,
		CreatedAt:   published,
		UpdatedAt:   published,
	}
	e.store.articles[article.ID] = article
	return article
}

func ptr[T any](value T) *T {
	return &value
}
