package app

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quill/api/internal/auth"
	"quill/api/internal/content"
	"quill/api/internal/export"
	"quill/api/internal/logging"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

const (
	SubscriberPending      = "pending"
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"

	NewsletterDraft   = "draft"
	NewsletterSending = "sending"
	NewsletterSent    = "sent"
	NewsletterFailed  = "failed"
)

func (s *Service) newsletterLink(path, token string) string {
	return strings.TrimRight(s.cfg.SiteURL, "/") + "/api/public/newsletter/" + path + "?token=" + url.QueryEscape(token)
}

type SubscribeInput struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Subscribe starts double opt-in. Active subscribers are left untouched and
// the response never reveals whether an address was already known.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput, ip string) error {
	if !s.settingBool(ctx, "newsletter.enabled") {
		return forbidden("The newsletter is closed")
	}
	address := strings.ToLower(strings.TrimSpace(in.Email))
	if !validEmail(address) {
		return validationError("A valid email is required", map[string]string{"email": "invalid"})
	}
	name := truncateRunes(strings.TrimSpace(in.Name), maxNameLength)

	existing, err := s.store.GetSubscriberByEmail(ctx, address)
	switch {
	case err == nil && existing.Status == SubscriberActive:
		return nil
	case err != nil && !store.IsNotFound(err):
		return err
	}

	token := util.NewID("cnf") + util.NewID("")
	saved, err := s.store.UpsertPendingSubscriber(ctx, store.Subscriber{
		Email:            address,
		Name:             name,
		ConfirmTokenHash: auth.HashToken(token),
		UnsubscribeToken: util.NewID("uns") + util.NewID(""),
		Source:           firstNonBlank(in.Source, "website"),
	})
	if err != nil {
		return err
	}
	s.recordActivity(ctx, Session{UserName: saved.Email}, "subscriber.subscribe", "subscriber", saved.ID, nil, ip)

	confirmURL := s.newsletterLink("confirm", token)
	logger := logging.FromContext(ctx)
	s.async(func() {
		if err := s.mailer.SendConfirmation(context.WithoutCancel(ctx), saved.Email, saved.Name, confirmURL); err != nil {
			logger.Warn("send confirmation email", zap.String("subscriber_id", saved.ID), zap.Error(err))
		}
	})
	return nil
}

// ConfirmSubscription activates a pending subscriber and sends the welcome email.
func (s *Service) ConfirmSubscription(ctx context.Context, token string) (SubscriberView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SubscriberView{}, validationError("Confirmation token is required", nil)
	}
	subscriber, err := s.store.ConfirmSubscriber(ctx, auth.HashToken(token), s.now())
	if err != nil {
		if store.IsNotFound(err) {
			return SubscriberView{}, domainError(http.StatusNotFound, "INVALID_TOKEN", "Confirmation link is invalid or already used", nil)
		}
		return SubscriberView{}, err
	}
	s.recordActivity(ctx, Session{UserName: subscriber.Email}, "subscriber.confirm", "subscriber", subscriber.ID, nil, "")

	unsubscribeURL := s.newsletterLink("unsubscribe", subscriber.UnsubscribeToken)
	logger := logging.FromContext(ctx)
	s.async(func() {
		if err := s.mailer.SendWelcome(context.WithoutCancel(ctx), subscriber.Email, subscriber.Name, unsubscribeURL); err != nil {
			logger.Warn("send welcome email", zap.String("subscriber_id", subscriber.ID), zap.Error(err))
		}
	})
	return subscriberView(subscriber), nil
}

func (s *Service) UnsubscribeByToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return validationError("Unsubscribe token is required", nil)
	}
	subscriber, err := s.store.Unsubscribe(ctx, token, s.now())
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "INVALID_TOKEN", "Unsubscribe link is invalid", nil)
		}
		return err
	}
	s.recordActivity(ctx, Session{UserName: subscriber.Email}, "subscriber.unsubscribe", "subscriber", subscriber.ID, nil, "")
	return nil
}

func (s *Service) ListSubscribers(ctx context.Context, sess Session, filter store.SubscriberFilter) ([]SubscriberView, store.Page, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return nil, store.Page{}, forbidden("You cannot manage the newsletter")
	}
	items, page, err := s.store.ListSubscribers(ctx, filter)
	if err != nil {
		return nil, store.Page{}, err
	}
	views := make([]SubscriberView, 0, len(items))
	for _, item := range items {
		views = append(views, subscriberView(item))
	}
	return views, page, nil
}

func (s *Service) ExportSubscribers(ctx context.Context, sess Session, format, status, ip string) (*export.Result, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return nil, forbidden("You cannot manage the newsletter")
	}
	parsed, err := export.ParseFormat(format)
	if err != nil || parsed == export.FormatPDF {
		return nil, export.ErrUnsupportedFormat
	}
	items, err := s.store.ListAllSubscribers(ctx, status)
	if err != nil {
		return nil, err
	}
	result, err := export.Subscribers(parsed, items, s.now())
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, sess, "subscriber.export", "subscriber", "", map[string]any{"count": len(items), "format": string(parsed)}, ip)
	return result, nil
}

func (s *Service) DeleteSubscriber(ctx context.Context, sess Session, subscriberID, ip string) error {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return forbidden("You cannot manage the newsletter")
	}
	if err := s.store.DeleteSubscriber(ctx, subscriberID); err != nil {
		if store.IsNotFound(err) {
			return notFound("Subscriber")
		}
		return err
	}
	s.recordActivity(ctx, sess, "subscriber.delete", "subscriber", subscriberID, nil, ip)
	return nil
}

type NewsletterInput struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (in NewsletterInput) validate() error {
	details := map[string]string{}
	if strings.TrimSpace(in.Subject) == "" {
		details["subject"] = "subject is required"
	} else if utf8.RuneCountInString(in.Subject) > maxTitleLength {
		details["subject"] = "subject is too long"
	}
	if strings.TrimSpace(in.Content) == "" {
		details["content"] = "content is required"
	}
	if len(details) > 0 {
		return validationError("Newsletter is invalid", details)
	}
	return nil
}

func (s *Service) ListNewsletters(ctx context.Context, sess Session) ([]NewsletterView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return nil, forbidden("You cannot manage the newsletter")
	}
	items, err := s.store.ListNewsletters(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]NewsletterView, 0, len(items))
	for _, item := range items {
		views = append(views, newsletterView(item))
	}
	return views, nil
}

func (s *Service) CreateNewsletter(ctx context.Context, sess Session, in NewsletterInput, ip string) (NewsletterView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return NewsletterView{}, forbidden("You cannot manage the newsletter")
	}
	if err := in.validate(); err != nil {
		return NewsletterView{}, err
	}
	userID := sess.UserID
	created, err := s.store.InsertNewsletter(ctx, store.Newsletter{
		Subject:   strings.TrimSpace(in.Subject),
		Content:   in.Content,
		CreatedBy: &userID,
	})
	if err != nil {
		return NewsletterView{}, err
	}
	s.recordActivity(ctx, sess, "newsletter.create", "newsletter", created.ID, map[string]any{"subject": created.Subject}, ip)
	return newsletterView(created), nil
}

func (s *Service) UpdateNewsletter(ctx context.Context, sess Session, newsletterID string, in NewsletterInput, ip string) (NewsletterView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return NewsletterView{}, forbidden("You cannot manage the newsletter")
	}
	if err := in.validate(); err != nil {
		return NewsletterView{}, err
	}
	current, err := s.store.GetNewsletter(ctx, newsletterID)
	if err != nil {
		if store.IsNotFound(err) {
			return NewsletterView{}, notFound("Newsletter")
		}
		return NewsletterView{}, err
	}
	if current.Status != NewsletterDraft {
		return NewsletterView{}, conflict("Only draft newsletters can be edited", map[string]string{"status": current.Status})
	}
	current.Subject = strings.TrimSpace(in.Subject)
	current.Content = in.Content
	updated, err := s.store.UpdateNewsletter(ctx, current)
	if err != nil {
		if store.IsNotFound(err) {
			return NewsletterView{}, conflict("Only draft newsletters can be edited", nil)
		}
		return NewsletterView{}, err
	}
	s.recordActivity(ctx, sess, "newsletter.update", "newsletter", updated.ID, map[string]any{"subject": updated.Subject}, ip)
	return newsletterView(updated), nil
}

// SendNewsletter claims the campaign and delivers it to every active
// subscriber in the background. The returned view has status "sending".
func (s *Service) SendNewsletter(ctx context.Context, sess Session, newsletterID, ip string) (NewsletterView, error) {
	if !s.Can(sess.Role, rbac.ActionManage) {
		return NewsletterView{}, forbidden("You cannot manage the newsletter")
	}
	current, err := s.store.GetNewsletter(ctx, newsletterID)
	if err != nil {
		if store.IsNotFound(err) {
			return NewsletterView{}, notFound("Newsletter")
		}
		return NewsletterView{}, err
	}
	if current.Status == NewsletterSent || current.Status == NewsletterSending {
		return NewsletterView{}, conflict("Newsletter has already been sent", map[string]string{"status": current.Status})
	}
	if !s.mailer.Enabled() {
		return NewsletterView{}, domainError(http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email delivery is not configured", nil)
	}
	body, err := content.RenderMarkdown(current.Content)
	if err != nil {
		return NewsletterView{}, err
	}
	claimed, err := s.store.MarkNewsletterSending(ctx, newsletterID)
	if err != nil {
		return NewsletterView{}, err
	}
	if !claimed {
		return NewsletterView{}, conflict("Newsletter has already been sent", nil)
	}
	current.Status = NewsletterSending

	s.recordActivity(ctx, sess, "newsletter.send", "newsletter", newsletterID, map[string]any{"subject": current.Subject}, ip)
	logger := logging.FromContext(ctx).With(zap.String("newsletter_id", newsletterID))
	s.async(func() {
		s.deliverNewsletter(context.WithoutCancel(ctx), logger, current, body)
	})
	return newsletterView(current), nil
}

func (s *Service) deliverNewsletter(ctx context.Context, logger *zap.Logger, item store.Newsletter, bodyHTML string) {
	subscribers, err := s.store.ListActiveSubscribers(ctx)
	if err != nil {
		logger.Error("load newsletter recipients", zap.Error(err))
		if err := s.store.FinishNewsletter(ctx, item.ID, NewsletterFailed, 0, 0, nil); err != nil {
			logger.Error("mark newsletter failed", zap.Error(err))
		}
		return
	}

	sent, failures := 0, 0
	for _, subscriber := range subscribers {
		unsubscribeURL := s.newsletterLink("unsubscribe", subscriber.UnsubscribeToken)
		if err := s.mailer.SendNewsletter(ctx, subscriber.Email, item.Subject, bodyHTML, unsubscribeURL); err != nil {
			failures++
			continue
		}
		sent++
	}

	status := NewsletterSent
	sentAt := s.now()
	sentAtPtr := &sentAt
	if sent == 0 && failures > 0 {
		status = NewsletterFailed
		sentAtPtr = nil
	}
	if err := s.store.FinishNewsletter(ctx, item.ID, status, sent, failures, sentAtPtr); err != nil {
		logger.Error("record newsletter result", zap.Error(err))
		return
	}
	logger.Info("newsletter delivered", zap.String("status", status), zap.Int("sent", sent), zap.Int("failed", failures))
}
