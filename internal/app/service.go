package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"quill/api/internal/ai"
	"quill/api/internal/auth"
	"quill/api/internal/authpw"
	"quill/api/internal/cache"
	"quill/api/internal/config"
	"quill/api/internal/email"
	"quill/api/internal/export"
	"quill/api/internal/logging"
	"quill/api/internal/media"
	"quill/api/internal/rbac"
	"quill/api/internal/revision"
	"quill/api/internal/search"
	"quill/api/internal/session"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

// Session is the authenticated admin behind a request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	// articles
	ListArticles(ctx context.Context, filter store.ArticleFilter) ([]store.Article, store.Page, error)
	GetArticle(ctx context.Context, articleID string) (store.Article, error)
	GetArticleBySlug(ctx context.Context, slug string) (store.Article, error)
	SlugExists(ctx context.Context, slug, excludeID string) (bool, error)
	InsertArticle(ctx context.Context, item store.Article) (store.Article, error)
	UpdateArticle(ctx context.Context, item store.Article) (store.Article, error)
	SetArticleStatus(ctx context.Context, articleID, status string, scheduledAt, publishedAt, archivedAt *time.Time, updatedBy string) error
	DeleteArticle(ctx context.Context, articleID string) error
	IncrementViews(ctx context.Context, articleID string) error
	PublishDueArticles(ctx context.Context, now time.Time) ([]string, error)
	ListRelatedCandidates(ctx context.Context, target store.Article, limit int) ([]store.Article, error)
	ListPublishedArticles(ctx context.Context, limit int) ([]store.Article, error)
	ArticleStats(ctx context.Context) (store.ArticleStats, error)
	// categories and authors
	ListCategories(ctx context.Context) ([]store.Category, error)
	GetCategory(ctx context.Context, categoryID string) (store.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (store.Category, error)
	InsertCategory(ctx context.Context, item store.Category) (store.Category, error)
	UpdateCategory(ctx context.Context, item store.Category) (store.Category, error)
	CategoryArticleCount(ctx context.Context, categoryID string) (int, error)
	DeleteCategory(ctx context.Context, categoryID, reassignTo string) error
	ListAuthors(ctx context.Context) ([]store.Author, error)
	GetAuthor(ctx context.Context, authorID string) (store.Author, error)
	GetAuthorByUserID(ctx context.Context, userID string) (store.Author, error)
	InsertAuthor(ctx context.Context, item store.Author) (store.Author, error)
	UpdateAuthor(ctx context.Context, item store.Author) (store.Author, error)
	DeleteAuthor(ctx context.Context, authorID string) error
	// comments
	ListComments(ctx context.Context, filter store.CommentFilter) ([]store.Comment, store.Page, error)
	ListApprovedComments(ctx context.Context, articleID string) ([]store.Comment, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	InsertComment(ctx context.Context, item store.Comment) (store.Comment, error)
	SetCommentStatus(ctx context.Context, commentID, status string) error
	BulkSetCommentStatus(ctx context.Context, commentIDs []string, status string) (int, error)
	BulkDeleteComments(ctx context.Context, commentIDs []string) (int, error)
	DeleteComment(ctx context.Context, commentID string) error
	CommentStats(ctx context.Context) (store.CommentStats, error)
	// media
	ListMedia(ctx context.Context, filter store.MediaFilter) ([]store.MediaItem, store.Page, error)
	GetMedia(ctx context.Context, mediaID string) (store.MediaItem, error)
	InsertMedia(ctx context.Context, item store.MediaItem) (store.MediaItem, error)
	UpdateMediaMeta(ctx context.Context, mediaID, altText, caption string) (store.MediaItem, error)
	DeleteMedia(ctx context.Context, mediaID string) error
	// newsletter
	ListSubscribers(ctx context.Context, filter store.SubscriberFilter) ([]store.Subscriber, store.Page, error)
	ListAllSubscribers(ctx context.Context, status string) ([]store.Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]store.Subscriber, error)
	GetSubscriberByEmail(ctx context.Context, email string) (store.Subscriber, error)
	UpsertPendingSubscriber(ctx context.Context, item store.Subscriber) (store.Subscriber, error)
	ConfirmSubscriber(ctx context.Context, tokenHash string, now time.Time) (store.Subscriber, error)
	Unsubscribe(ctx context.Context, unsubscribeToken string, now time.Time) (store.Subscriber, error)
	DeleteSubscriber(ctx context.Context, subscriberID string) error
	CountSubscribers(ctx context.Context, status string) (int, error)
	ListNewsletters(ctx context.Context) ([]store.Newsletter, error)
	GetNewsletter(ctx context.Context, newsletterID string) (store.Newsletter, error)
	InsertNewsletter(ctx context.Context, item store.Newsletter) (store.Newsletter, error)
	UpdateNewsletter(ctx context.Context, item store.Newsletter) (store.Newsletter, error)
	MarkNewsletterSending(ctx context.Context, newsletterID string) (bool, error)
	FinishNewsletter(ctx context.Context, newsletterID, status string, recipients, failures int, sentAt *time.Time) error
	// users
	GetUserByID(ctx context.Context, userID string) (store.AdminUser, error)
	GetUserByEmail(ctx context.Context, email string) (store.AdminUser, error)
	ListUsers(ctx context.Context) ([]store.AdminUser, error)
	InsertUser(ctx context.Context, user store.AdminUser) (store.AdminUser, error)
	UpdateUser(ctx context.Context, user store.AdminUser) (store.AdminUser, error)
	SetPasswordHash(ctx context.Context, userID, hash string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	DeactivateUser(ctx context.Context, userID string) error
	CountAdmins(ctx context.Context) (int, error)
	CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (string, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	// sessions, used when Redis is not configured
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	// settings and activity
	ListSettings(ctx context.Context) ([]store.Setting, error)
	UpsertSettings(ctx context.Context, values map[string]json.RawMessage, updatedBy string) error
	InsertActivity(ctx context.Context, entry store.ActivityLog) error
	ListActivity(ctx context.Context, filter store.ActivityFilter) ([]store.ActivityLog, store.Page, error)
}

type revisionStore interface {
	Commit(articleID string, snapshot revision.Snapshot, author, message string) (revision.Version, error)
	History(articleID string, limit int) ([]revision.Version, error)
	Get(articleID, hash string) (revision.Snapshot, revision.Version, error)
	Remove(articleID string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexArticle(article store.Article)
	DeleteArticle(id string)
	ReindexAll(ctx context.Context) (int, error)
}

type writer interface {
	Available() bool
	GenerateArticle(ctx context.Context, req ai.GenerateRequest) (ai.GeneratedArticle, error)
	SuggestTitles(ctx context.Context, topic string, n int) ([]string, error)
	Improve(ctx context.Context, markdown, instruction string) (string, error)
	GenerateSEO(ctx context.Context, title, markdown string) (ai.SEOSuggestion, error)
}

// Deps carries the optional collaborators. Nil fields fall back to a
// disabled implementation.
type Deps struct {
	Sessions  session.Store
	Revisions revisionStore
	Search    searchIndex
	Cache     *cache.Cache
	Media     *media.Service
	Mailer    *email.Mailer
	AI        writer
	Export    *export.Service
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  session.Store
	passwords *authpw.Service
	revisions revisionStore
	search    searchIndex
	cache     *cache.Cache
	media     *media.Service
	mailer    *email.Mailer
	ai        writer
	export    *export.Service
	logger    *zap.Logger
	now       func() time.Time
	// background work such as newsletter delivery
	async func(func())
	jobs  sync.WaitGroup
}

func New(cfg config.Config, dataStore dataStore, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  deps.Sessions,
		passwords: authpw.NewService(dataStore),
		revisions: deps.Revisions,
		search:    deps.Search,
		cache:     deps.Cache,
		media:     deps.Media,
		mailer:    deps.Mailer,
		ai:        deps.AI,
		export:    deps.Export,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sessions == nil {
		s.sessions = session.NewPostgresStore(dataStore)
	}
	if s.revisions == nil {
		s.revisions = revision.New(cfg.RevisionsDir)
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, s.logger)
	}
	if s.media == nil {
		s.media = media.NewService(nil)
	}
	if s.mailer == nil {
		s.mailer = email.NewMailer(nil, cfg.SiteName, cfg.SiteURL, s.logger)
	}
	if s.ai == nil {
		s.ai = ai.New(ai.Config{}, s.logger)
	}
	if s.export == nil {
		s.export = export.NewService(cfg.SiteName)
	}
	s.async = func(fn func()) {
		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			fn()
		}()
	}
	return s
}

// Wait blocks until background jobs finish or ctx expires.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Login(ctx context.Context, email, password, ip string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.recordActivity(ctx, sess, "login", "user", user.ID, nil, ip)
	return sess, nil
}

// Refresh rotates a refresh token: the presented one is consumed and a new
// pair is issued for its still-active owner. Concurrent refreshes with the
// same token yield one session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.ConsumeRefresh(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.AdminUser) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefresh(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reloads its user, so role
// changes and deactivation take effect before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccess(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			logging.FromContext(ctx).Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefresh(ctx, auth.HashToken(refreshToken)); err != nil {
			logging.FromContext(ctx).Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}

// PurgeExpiredTokens is run by the scheduler.
func (s *Service) PurgeExpiredTokens(ctx context.Context) error {
	removed, err := s.store.PurgeExpiredTokens(ctx, s.now())
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.FromContext(ctx).Info("purged expired tokens", zap.Int64("removed", removed))
	}
	return nil
}

// recordActivity writes an activity log entry. Failures are logged, never returned.
func (s *Service) recordActivity(ctx context.Context, sess Session, action, entityType, entityID string, details map[string]any, ip string) {
	entry := store.ActivityLog{
		UserName:   sess.UserName,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		IPAddress:  ip,
	}
	if sess.UserID != "" {
		userID := sess.UserID
		entry.UserID = &userID
	}
	if err := s.store.InsertActivity(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("record activity",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// invalidatePublic drops every cached public response.
func (s *Service) invalidatePublic(ctx context.Context) {
	if _, err := s.cache.InvalidatePrefix(ctx, publicCachePrefix); err != nil {
		logging.FromContext(ctx).Warn("invalidate public cache", zap.Error(err))
	}
}

// afterArticleChange keeps the search index and public cache in step with a
// mutated article.
func (s *Service) afterArticleChange(ctx context.Context, article store.Article) {
	s.search.IndexArticle(article)
	s.invalidatePublic(ctx)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
