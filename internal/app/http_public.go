package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"quill/api/internal/ratelimit"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

func (s *HTTPServer) handleRSS(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.RSS(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *HTTPServer) handleSitemap(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Sitemap(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func publicFilter(r *http.Request) store.ArticleFilter {
	q := r.URL.Query()
	return store.ArticleFilter{
		CategoryID:   q.Get("categoryId"),
		CategorySlug: q.Get("category"),
		AuthorID:     q.Get("author"),
		Tag:          q.Get("tag"),
		Query:        q.Get("q"),
		Featured:     queryBool(r, "featured"),
		Sort:         q.Get("sort"),
		Order:        q.Get("order"),
		Page:         queryInt(r, "page", 1),
		Limit:        queryInt(r, "limit", 0),
	}
}

func (s *HTTPServer) handlePublicArticles(w http.ResponseWriter, r *http.Request) {
	items, page, err := s.service.PublicArticles(r.Context(), publicFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, items, page)
}

func (s *HTTPServer) handlePublicArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.service.PublicArticle(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article)
}

func (s *HTTPServer) handleRelated(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.RelatedArticles(r.Context(), chi.URLParam(r, "slug"), queryInt(r, "limit", relatedDefault))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func (s *HTTPServer) handleArticleMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.service.ArticleMeta(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, meta)
}

func (s *HTTPServer) handlePublicComments(w http.ResponseWriter, r *http.Request) {
	threads, err := s.service.ApprovedComments(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, threads)
}

func (s *HTTPServer) handlePostComment(w http.ResponseWriter, r *http.Request) {
	var body CommentInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	comment, err := s.service.PostComment(r.Context(), chi.URLParam(r, "slug"), body, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, comment)
}

func (s *HTTPServer) handlePublicCategories(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.PublicCategories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func searchQuery(r *http.Request) search.Query {
	q := r.URL.Query()
	limit := queryInt(r, "limit", 20)
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	return search.Query{
		Text:       q.Get("q"),
		CategoryID: q.Get("categoryId"),
		Tag:        q.Get("tag"),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}
}

func (s *HTTPServer) handlePublicSearch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.Search(r.Context(), searchQuery(r), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *HTTPServer) handlePublicSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.service.PublicSettings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, values)
}

func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body SubscribeInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.Subscribe(r.Context(), body, ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{
		"message": "Please check your inbox to confirm your subscription",
	})
}

func (s *HTTPServer) handleConfirmSubscription(w http.ResponseWriter, r *http.Request) {
	subscriber, err := s.service.ConfirmSubscription(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"message": "Subscription confirmed",
		"email":   subscriber.Email,
	})
}

func (s *HTTPServer) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.service.UnsubscribeByToken(r.Context(), r.URL.Query().Get("token")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "You have been unsubscribed"})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user": map[string]any{
			"id":          session.UserID,
			"email":       session.Email,
			"displayName": session.UserName,
			"role":        session.Role,
		},
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.Logout(r.Context(), sessionFrom(r.Context()), strings.TrimSpace(body.RefreshToken)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.ChangePassword(r.Context(), sessionFrom(r.Context()), body.CurrentPassword, body.NewPassword, ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.ForgotPassword(r.Context(), body.Email, ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{
		"message": "If an account exists, a reset email has been sent",
	})
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.ResetPassword(r.Context(), body.Token, body.NewPassword, ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}
