package app

import (
	"time"

	"quill/api/internal/store"
)

type ArticleView struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Excerpt         string     `json:"excerpt"`
	Content         string     `json:"content,omitempty"`
	ContentHTML     string     `json:"contentHtml,omitempty"`
	CoverImageURL   string     `json:"coverImageUrl"`
	Status          string     `json:"status"`
	CategoryID      *string    `json:"categoryId"`
	CategoryName    string     `json:"categoryName,omitempty"`
	CategorySlug    string     `json:"categorySlug,omitempty"`
	AuthorID        *string    `json:"authorId"`
	AuthorName      string     `json:"authorName,omitempty"`
	AuthorSlug      string     `json:"authorSlug,omitempty"`
	Tags            []string   `json:"tags"`
	Featured        bool       `json:"featured"`
	MetaTitle       string     `json:"metaTitle"`
	MetaDescription string     `json:"metaDescription"`
	ReadingTime     int        `json:"readingTime"`
	ViewCount       int64      `json:"viewCount"`
	AIGenerated     bool       `json:"aiGenerated"`
	Version         int        `json:"version"`
	ScheduledAt     *time.Time `json:"scheduledAt"`
	PublishedAt     *time.Time `json:"publishedAt"`
	ArchivedAt      *time.Time `json:"archivedAt,omitempty"`
	CreatedBy       *string    `json:"createdBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func articleView(a store.Article, withBody bool) ArticleView {
	view := ArticleView{
		ID:              a.ID,
		Title:           a.Title,
		Slug:            a.Slug,
		Excerpt:         a.Excerpt,
		CoverImageURL:   a.CoverImageURL,
		Status:          a.Status,
		CategoryID:      a.CategoryID,
		CategoryName:    a.CategoryName,
		CategorySlug:    a.CategorySlug,
		AuthorID:        a.AuthorID,
		AuthorName:      a.AuthorName,
		AuthorSlug:      a.AuthorSlug,
		Tags:            a.Tags,
		Featured:        a.Featured,
		MetaTitle:       a.MetaTitle,
		MetaDescription: a.MetaDescription,
		ReadingTime:     a.ReadingTime,
		ViewCount:       a.ViewCount,
		AIGenerated:     a.AIGenerated,
		Version:         a.Version,
		ScheduledAt:     a.ScheduledAt,
		PublishedAt:     a.PublishedAt,
		ArchivedAt:      a.ArchivedAt,
		CreatedBy:       a.CreatedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if view.Tags == nil {
		view.Tags = []string{}
	}
	if withBody {
		view.Content = a.Content
		view.ContentHTML = a.ContentHTML
	}
	return view
}

func articleViews(items []store.Article) []ArticleView {
	views := make([]ArticleView, 0, len(items))
	for _, item := range items {
		views = append(views, articleView(item, false))
	}
	return views
}

// publicArticleView hides editorial fields from anonymous readers.
func publicArticleView(a store.Article, withBody bool) ArticleView {
	view := articleView(a, withBody)
	view.CreatedBy = nil
	view.ScheduledAt = nil
	view.ArchivedAt = nil
	view.Version = 0
	return view
}

type CategoryView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Color        string    `json:"color"`
	ParentID     *string   `json:"parentId"`
	SortOrder    int       `json:"sortOrder"`
	ArticleCount int       `json:"articleCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func categoryView(c store.Category) CategoryView {
	return CategoryView{
		ID:           c.ID,
		Name:         c.Name,
		Slug:         c.Slug,
		Description:  c.Description,
		Color:        c.Color,
		ParentID:     c.ParentID,
		SortOrder:    c.SortOrder,
		ArticleCount: c.ArticleCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type AuthorView struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Email     string    `json:"email,omitempty"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatarUrl"`
	Website   string    `json:"website"`
	Twitter   string    `json:"twitter"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func authorView(a store.Author) AuthorView {
	return AuthorView{
		ID:        a.ID,
		UserID:    a.UserID,
		Name:      a.Name,
		Slug:      a.Slug,
		Email:     a.Email,
		Bio:       a.Bio,
		AvatarURL: a.AvatarURL,
		Website:   a.Website,
		Twitter:   a.Twitter,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type CommentView struct {
	ID           string        `json:"id"`
	ArticleID    string        `json:"articleId"`
	ArticleTitle string        `json:"articleTitle,omitempty"`
	ArticleSlug  string        `json:"articleSlug,omitempty"`
	ParentID     *string       `json:"parentId"`
	AuthorName   string        `json:"authorName"`
	AuthorEmail  string        `json:"authorEmail,omitempty"`
	AuthorURL    string        `json:"authorUrl"`
	Content      string        `json:"content"`
	Status       string        `json:"status"`
	IsStaff      bool          `json:"isStaff"`
	CreatedAt    time.Time     `json:"createdAt"`
	Replies      []CommentView `json:"replies,omitempty"`
}

func commentView(c store.Comment) CommentView {
	return CommentView{
		ID:           c.ID,
		ArticleID:    c.ArticleID,
		ArticleTitle: c.ArticleTitle,
		ArticleSlug:  c.ArticleSlug,
		ParentID:     c.ParentID,
		AuthorName:   c.AuthorName,
		AuthorEmail:  c.AuthorEmail,
		AuthorURL:    c.AuthorURL,
		Content:      c.Content,
		Status:       c.Status,
		IsStaff:      c.IsStaff,
		CreatedAt:    c.CreatedAt,
	}
}

// commentThreads nests approved comments under their parents. Replies whose
// parent is not in the list are promoted to the top level.
func commentThreads(items []store.Comment) []CommentView {
	byID := make(map[string]int, len(items))
	for i, item := range items {
		byID[item.ID] = i
	}
	children := make(map[string][]store.Comment)
	roots := make([]store.Comment, 0)
	for _, item := range items {
		if item.ParentID != nil {
			if _, ok := byID[*item.ParentID]; ok && *item.ParentID != item.ID {
				children[*item.ParentID] = append(children[*item.ParentID], item)
				continue
			}
		}
		roots = append(roots, item)
	}

	var build func(c store.Comment, depth int) CommentView
	build = func(c store.Comment, depth int) CommentView {
		view := commentView(c)
		view.AuthorEmail = ""
		if depth < 16 {
			for _, child := range children[c.ID] {
				view.Replies = append(view.Replies, build(child, depth+1))
			}
		}
		return view
	}

	threads := make([]CommentView, 0, len(roots))
	for _, root := range roots {
		threads = append(threads, build(root, 0))
	}
	return threads
}

type MediaView struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	AltText      string    `json:"altText"`
	Caption      string    `json:"caption"`
	UploadedBy   *string   `json:"uploadedBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

func mediaView(m store.MediaItem) MediaView {
	return MediaView{
		ID:           m.ID,
		Filename:     m.Filename,
		OriginalName: m.OriginalName,
		MimeType:     m.MimeType,
		SizeBytes:    m.SizeBytes,
		Width:        m.Width,
		Height:       m.Height,
		URL:          m.URL,
		ThumbnailURL: m.ThumbnailURL,
		AltText:      m.AltText,
		Caption:      m.Caption,
		UploadedBy:   m.UploadedBy,
		CreatedAt:    m.CreatedAt,
	}
}

type SubscriberView struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	ConfirmedAt    *time.Time `json:"confirmedAt"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func subscriberView(s store.Subscriber) SubscriberView {
	return SubscriberView{
		ID:             s.ID,
		Email:          s.Email,
		Name:           s.Name,
		Status:         s.Status,
		Source:         s.Source,
		ConfirmedAt:    s.ConfirmedAt,
		UnsubscribedAt: s.UnsubscribedAt,
		CreatedAt:      s.CreatedAt,
	}
}

type NewsletterView struct {
	ID             string     `json:"id"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content"`
	Status         string     `json:"status"`
	RecipientCount int        `json:"recipientCount"`
	FailureCount   int        `json:"failureCount"`
	SentAt         *time.Time `json:"sentAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func newsletterView(n store.Newsletter) NewsletterView {
	return NewsletterView{
		ID:             n.ID,
		Subject:        n.Subject,
		Content:        n.Content,
		Status:         n.Status,
		RecipientCount: n.RecipientCount,
		FailureCount:   n.FailureCount,
		SentAt:         n.SentAt,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

type UserView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        string     `json:"role"`
	AvatarURL   string     `json:"avatarUrl"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func userView(u store.AdminUser) UserView {
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		AvatarURL:   u.AvatarURL,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

type ActivityView struct {
	ID         int64          `json:"id"`
	UserID     *string        `json:"userId"`
	UserName   string         `json:"userName"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func activityView(a store.ActivityLog) ActivityView {
	details := a.Details
	if details == nil {
		details = map[string]any{}
	}
	return ActivityView{
		ID:         a.ID,
		UserID:     a.UserID,
		UserName:   a.UserName,
		Action:     a.Action,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Details:    details,
		CreatedAt:  a.CreatedAt,
	}
}
