package store

import "time"

type AdminUser struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	AvatarURL    string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Author struct {
	ID        string
	UserID    *string
	Name      string
	Slug      string
	Email     string
	Bio       string
	AvatarURL string
	Website   string
	Twitter   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID           string
	Name         string
	Slug         string
	Description  string
	Color        string
	ParentID     *string
	SortOrder    int
	ArticleCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Article struct {
	ID              string
	Title           string
	Slug            string
	Excerpt         string
	Content         string
	ContentHTML     string
	CoverImageURL   string
	Status          string
	CategoryID      *string
	AuthorID        *string
	Tags            []string
	Featured        bool
	MetaTitle       string
	MetaDescription string
	ReadingTime     int
	ViewCount       int64
	AIGenerated     bool
	Version         int
	RevisionHash    string
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	ArchivedAt      *time.Time
	CreatedBy       *string
	UpdatedBy       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Joined for list and detail responses
	CategoryName string
	CategorySlug string
	AuthorName   string
	AuthorSlug   string
}

type Comment struct {
	ID          string
	ArticleID   string
	ParentID    *string
	AuthorName  string
	AuthorEmail string
	AuthorURL   string
	Content     string
	Status      string
	IsStaff     bool
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined for moderation lists
	ArticleTitle string
	ArticleSlug  string
}

type MediaItem struct {
	ID           string
	Filename     string
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Width        int
	Height       int
	StorageKey   string
	ThumbnailKey string
	URL          string
	ThumbnailURL string
	AltText      string
	Caption      string
	UploadedBy   *string
	CreatedAt    time.Time
}

type Subscriber struct {
	ID               string
	Email            string
	Name             string
	Status           string
	ConfirmTokenHash string
	UnsubscribeToken string
	Source           string
	ConfirmedAt      *time.Time
	UnsubscribedAt   *time.Time
	CreatedAt        time.Time
}

type Newsletter struct {
	ID             string
	Subject        string
	Content        string
	Status         string
	RecipientCount int
	FailureCount   int
	SentAt         *time.Time
	CreatedBy      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ActivityLog struct {
	ID         int64
	UserID     *string
	UserName   string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	IPAddress  string
	CreatedAt  time.Time
}

type ArticleStats struct {
	Total      int
	Draft      int
	Scheduled  int
	Published  int
	Archived   int
	TotalViews int64
}

type CommentStats struct {
	Pending  int
	Approved int
	Spam     int
	Rejected int
}

// Page describes one window of a paginated listing.
type Page struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPage(page, limit, total int) Page {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Page{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
