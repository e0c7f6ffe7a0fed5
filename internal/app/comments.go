package app

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quill/api/internal/content"
	"quill/api/internal/email"
	"quill/api/internal/feed"
	"quill/api/internal/logging"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

const (
	maxCommentLength = 5000
	maxNameLength    = 100
	maxBulkComments  = 100
)

const (
	CommentPending  = "pending"
	CommentApproved = "approved"
	CommentSpam     = "spam"
	CommentRejected = "rejected"
)

func validCommentStatus(status string) bool {
	switch status {
	case CommentPending, CommentApproved, CommentSpam, CommentRejected:
		return true
	}
	return false
}

func validEmail(address string) bool {
	parsed, err := mail.ParseAddress(address)
	return err == nil && parsed.Address == address && strings.Contains(address, ".")
}

type CommentInput struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	URL      string  `json:"url"`
	Content  string  `json:"content"`
	ParentID *string `json:"parentId"`
}

// ApprovedComments returns the threaded, approved discussion of a published article.
func (s *Service) ApprovedComments(ctx context.Context, slug string) ([]CommentView, error) {
	article, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListApprovedComments(ctx, article.ID)
	if err != nil {
		return nil, err
	}
	return commentThreads(items), nil
}

// PostComment accepts a reader comment. It is auto-approved only when the
// comments.auto_approve setting is on.
func (s *Service) PostComment(ctx context.Context, slug string, in CommentInput, ip, userAgent string) (CommentView, error) {
	if !s.settingBool(ctx, "comments.enabled") {
		return CommentView{}, forbidden("Comments are disabled")
	}
	article, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return CommentView{}, err
	}

	name := strings.TrimSpace(in.Name)
	address := strings.ToLower(strings.TrimSpace(in.Email))
	body := strings.TrimSpace(content.SanitizeComment(in.Content))
	details := map[string]string{}
	switch {
	case name == "":
		details["name"] = "name is required"
	case utf8.RuneCountInString(name) > maxNameLength:
		details["name"] = "name is too long"
	}
	if !validEmail(address) {
		details["email"] = "a valid email is required"
	}
	switch n := utf8.RuneCountInString(body); {
	case n == 0:
		details["content"] = "comment cannot be empty"
	case n > maxCommentLength:
		details["content"] = "comment must be at most 5000 characters"
	}
	website := strings.TrimSpace(in.URL)
	if website != "" && !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
		details["url"] = "url must start with http:// or https://"
	}
	if len(details) > 0 {
		return CommentView{}, validationError("Comment is invalid", details)
	}

	item := store.Comment{
		ArticleID:   article.ID,
		AuthorName:  name,
		AuthorEmail: address,
		AuthorURL:   website,
		Content:     body,
		Status:      CommentPending,
		IPAddress:   ip,
		UserAgent:   truncateRunes(userAgent, 500),
	}
	if in.ParentID != nil && strings.TrimSpace(*in.ParentID) != "" {
		parent, err := s.store.GetComment(ctx, *in.ParentID)
		if err != nil || parent.ArticleID != article.ID || parent.Status != CommentApproved {
			return CommentView{}, validationError("Comment is invalid", map[string]string{"parentId": "parent comment not found"})
		}
		item.ParentID = &parent.ID
	}
	if s.settingBool(ctx, "comments.auto_approve") {
		item.Status = CommentApproved
	}

	created, err := s.store.InsertComment(ctx, item)
	if err != nil {
		return CommentView{}, err
	}
	s.recordActivity(ctx, Session{UserName: name}, "comment.create", "comment", created.ID, map[string]any{"articleId": article.ID, "status": created.Status}, ip)
	if created.Status == CommentApproved {
		s.invalidatePublic(ctx)
	}
	s.notifyComment(ctx, article, created)

	view := commentView(created)
	view.AuthorEmail = ""
	return view, nil
}

// notifyComment emails the moderators in the background. Failures are logged.
func (s *Service) notifyComment(ctx context.Context, article store.Article, comment store.Comment) {
	if !s.mailer.Enabled() {
		return
	}
	logger := logging.FromContext(ctx)
	notice := email.CommentNotice{
		ArticleTitle: article.Title,
		ArticleURL:   feed.ArticleURL(s.cfg.SiteURL, article.Slug),
		AuthorName:   comment.AuthorName,
		AuthorEmail:  comment.AuthorEmail,
		Excerpt:      truncateRunes(comment.Content, 280),
		Status:       comment.Status,
		ModerateURL:  strings.TrimRight(s.cfg.AdminURL, "/") + "/comments",
	}
	s.async(func() {
		ctx := context.WithoutCancel(ctx)
		recipients, err := s.moderatorEmails(ctx)
		if err != nil {
			logger.Warn("load comment notification recipients", zap.Error(err))
			return
		}
		if err := s.mailer.SendCommentNotification(ctx, recipients, notice); err != nil && !errors.Is(err, email.ErrNotConfigured) {
			logger.Warn("send comment notification", zap.String("comment_id", comment.ID), zap.Error(err))
		}
	})
}

func (s *Service) moderatorEmails(ctx context.Context) ([]string, error) {
	if len(s.cfg.NotifyEmails) > 0 {
		return s.cfg.NotifyEmails, nil
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0)
	for _, user := range users {
		if user.IsActive && s.Can(user.Role, rbac.ActionModerate) {
			recipients = append(recipients, user.Email)
		}
	}
	return recipients, nil
}

func (s *Service) ListComments(ctx context.Context, sess Session, filter store.CommentFilter) ([]CommentView, store.Page, error) {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return nil, store.Page{}, forbidden("You cannot moderate comments")
	}
	if filter.Status != "" && !validCommentStatus(filter.Status) {
		return nil, store.Page{}, validationError("Unknown comment status", map[string]string{"status": filter.Status})
	}
	items, page, err := s.store.ListComments(ctx, filter)
	if err != nil {
		return nil, store.Page{}, err
	}
	views := make([]CommentView, 0, len(items))
	for _, item := range items {
		views = append(views, commentView(item))
	}
	return views, page, nil
}

func (s *Service) ModerateComment(ctx context.Context, sess Session, commentID, status, ip string) (CommentView, error) {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return CommentView{}, forbidden("You cannot moderate comments")
	}
	if !validCommentStatus(status) {
		return CommentView{}, validationError("Unknown comment status", map[string]string{"status": status})
	}
	current, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if store.IsNotFound(err) {
			return CommentView{}, notFound("Comment")
		}
		return CommentView{}, err
	}
	if err := s.store.SetCommentStatus(ctx, commentID, status); err != nil {
		return CommentView{}, err
	}
	current.Status = status
	s.recordActivity(ctx, sess, "comment."+status, "comment", commentID, map[string]any{"articleId": current.ArticleID}, ip)
	s.invalidatePublic(ctx)
	return commentView(current), nil
}

func (s *Service) BulkComments(ctx context.Context, sess Session, ids []string, action, ip string) (int, error) {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return 0, forbidden("You cannot moderate comments")
	}
	if len(ids) == 0 {
		return 0, validationError("ids are required", nil)
	}
	if len(ids) > maxBulkComments {
		return 0, validationError("at most 100 comments per request", nil)
	}

	var (
		count int
		err   error
	)
	switch {
	case action == "delete":
		count, err = s.store.BulkDeleteComments(ctx, ids)
	case validCommentStatus(action):
		count, err = s.store.BulkSetCommentStatus(ctx, ids, action)
	default:
		return 0, validationError("unsupported bulk action", map[string]any{"allowed": []string{CommentApproved, CommentPending, CommentSpam, CommentRejected, "delete"}})
	}
	if err != nil {
		return 0, err
	}
	s.recordActivity(ctx, sess, "comment.bulk_"+action, "comment", "", map[string]any{"ids": ids, "affected": count}, ip)
	s.invalidatePublic(ctx)
	return count, nil
}

func (s *Service) DeleteComment(ctx context.Context, sess Session, commentID, ip string) error {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return forbidden("You cannot moderate comments")
	}
	current, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Comment")
		}
		return err
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.recordActivity(ctx, sess, "comment.delete", "comment", commentID, map[string]any{"articleId": current.ArticleID}, ip)
	s.invalidatePublic(ctx)
	return nil
}

// ReplyToComment posts an approved staff reply under an existing comment.
func (s *Service) ReplyToComment(ctx context.Context, sess Session, commentID, body, ip string) (CommentView, error) {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return CommentView{}, forbidden("You cannot reply as staff")
	}
	parent, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if store.IsNotFound(err) {
			return CommentView{}, notFound("Comment")
		}
		return CommentView{}, err
	}
	body = strings.TrimSpace(content.SanitizeComment(body))
	if n := utf8.RuneCountInString(body); n == 0 || n > maxCommentLength {
		return CommentView{}, validationError("Reply must be between 1 and 5000 characters", map[string]string{"content": "invalid length"})
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return CommentView{}, err
	}
	created, err := s.store.InsertComment(ctx, store.Comment{
		ArticleID:   parent.ArticleID,
		ParentID:    &parent.ID,
		AuthorName:  user.DisplayName,
		AuthorEmail: user.Email,
		Content:     body,
		Status:      CommentApproved,
		IsStaff:     true,
		IPAddress:   ip,
	})
	if err != nil {
		return CommentView{}, err
	}
	if parent.Status == CommentPending {
		// Replying to a pending comment approves it.
		if err := s.store.SetCommentStatus(ctx, parent.ID, CommentApproved); err != nil {
			return CommentView{}, err
		}
	}
	s.recordActivity(ctx, sess, "comment.reply", "comment", created.ID, map[string]any{"parentId": parent.ID, "articleId": parent.ArticleID}, ip)
	s.invalidatePublic(ctx)
	return commentView(created), nil
}

func truncateRunes(value string, n int) string {
	if utf8.RuneCountInString(value) <= n {
		return value
	}
	return string([]rune(value)[:n])
}
