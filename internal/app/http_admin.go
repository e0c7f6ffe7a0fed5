package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quill/api/internal/media"
	"quill/api/internal/ratelimit"
	"quill/api/internal/store"
)

func adminFilter(r *http.Request) store.ArticleFilter {
	q := r.URL.Query()
	return store.ArticleFilter{
		Status:       q.Get("status"),
		CategoryID:   q.Get("categoryId"),
		CategorySlug: q.Get("category"),
		AuthorID:     q.Get("authorId"),
		Tag:          q.Get("tag"),
		Query:        q.Get("q"),
		Featured:     queryBool(r, "featured"),
		From:         queryTime(r, "from"),
		To:           queryTime(r, "to"),
		Sort:         q.Get("sort"),
		Order:        q.Get("order"),
		Page:         queryInt(r, "page", 1),
		Limit:        queryInt(r, "limit", 20),
	}
}

func (s *HTTPServer) handleListArticles(w http.ResponseWriter, r *http.Request) {
	items, page, err := s.service.ListArticles(r.Context(), sessionFrom(r.Context()), adminFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, items, page)
}

func (s *HTTPServer) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var body ArticleInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	article, err := s.service.CreateArticle(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, article)
}

func (s *HTTPServer) handleExportArticles(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportArticles(r.Context(), sessionFrom(r.Context()), r.URL.Query().Get("format"), adminFilter(r), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handlePublishDue(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.PublishDue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"published": count})
}

func (s *HTTPServer) handleBulkArticles(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs    []string `json:"ids"`
		Action string   `json:"action"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	result, err := s.service.BulkArticles(r.Context(), sessionFrom(r.Context()), body.IDs, body.Action, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *HTTPServer) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.service.GetArticle(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article)
}

func (s *HTTPServer) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var body ArticleInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	article, err := s.service.UpdateArticle(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article)
}

func (s *HTTPServer) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteArticle(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *HTTPServer) handleDuplicateArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.service.DuplicateArticle(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, article)
}

func (s *HTTPServer) handleArticleAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScheduledAt *time.Time `json:"scheduledAt"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	article, err := s.service.ChangeStatus(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "action"), body.ScheduledAt, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article)
}

func (s *HTTPServer) handleArticleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.ArticleVersions(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, versions)
}

func (s *HTTPServer) handleArticleVersion(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.ArticleVersion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	article, err := s.service.RestoreVersion(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "hash"), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, article)
}

func (s *HTTPServer) handleArticlePDF(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ArticlePDF(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListCategories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func (s *HTTPServer) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var body CategoryInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.CreateCategory(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var body CategoryInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.UpdateCategory(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteCategory(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), r.URL.Query().Get("reassign"), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *HTTPServer) handleListAuthors(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListAuthors(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func (s *HTTPServer) handleGetAuthor(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetAuthor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCreateAuthor(w http.ResponseWriter, r *http.Request) {
	var body AuthorInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.CreateAuthor(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateAuthor(w http.ResponseWriter, r *http.Request) {
	var body AuthorInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.UpdateAuthor(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteAuthor(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAuthor(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func commentFilter(r *http.Request) store.CommentFilter {
	q := r.URL.Query()
	return store.CommentFilter{
		ArticleID: q.Get("articleId"),
		Status:    q.Get("status"),
		Query:     q.Get("q"),
		Page:      queryInt(r, "page", 1),
		Limit:     queryInt(r, "limit", 20),
	}
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	items, page, err := s.service.ListComments(r.Context(), sessionFrom(r.Context()), commentFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, items, page)
}

func (s *HTTPServer) handleExportComments(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportComments(r.Context(), sessionFrom(r.Context()), r.URL.Query().Get("format"), commentFilter(r), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleBulkComments(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs    []string `json:"ids"`
		Action string   `json:"action"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	count, err := s.service.BulkComments(r.Context(), sessionFrom(r.Context()), body.IDs, body.Action, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"affected": count})
}

func (s *HTTPServer) handleModerateComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	comment, err := s.service.ModerateComment(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body.Status, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, comment)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteComment(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *HTTPServer) handleReplyComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	comment, err := s.service.ReplyToComment(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body.Content, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, comment)
}

func (s *HTTPServer) handleListMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, page, err := s.service.ListMedia(r.Context(), sessionFrom(r.Context()), store.MediaFilter{
		MimePrefix: q.Get("type"),
		Query:      q.Get("q"),
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 24),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, items, page)
}

// handleUploadMedia reads the "file" part of a multipart form.
func (s *HTTPServer) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, media.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form data", nil)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file is required", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, media.MaxUploadBytes+1))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	item, err := s.service.UploadMedia(r.Context(), sessionFrom(r.Context()), media.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, r.FormValue("altText"), r.FormValue("caption"), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateMedia(w http.ResponseWriter, r *http.Request) {
	var body MediaInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.UpdateMedia(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteMedia(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.service.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, values)
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if !decodeOrFail(w, r, &body) {
		return
	}
	values, err := s.service.UpdateSettings(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, values)
}

func (s *HTTPServer) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, page, err := s.service.ListSubscribers(r.Context(), sessionFrom(r.Context()), store.SubscriberFilter{
		Status: q.Get("status"),
		Query:  q.Get("q"),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 50),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, items, page)
}

func (s *HTTPServer) handleExportSubscribers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.service.ExportSubscribers(r.Context(), sessionFrom(r.Context()), q.Get("format"), q.Get("status"), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleDeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSubscriber(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *HTTPServer) handleListNewsletters(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListNewsletters(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func (s *HTTPServer) handleCreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var body NewsletterInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.CreateNewsletter(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateNewsletter(w http.ResponseWriter, r *http.Request) {
	var body NewsletterInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.UpdateNewsletter(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleSendNewsletter(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.SendNewsletter(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, item)
}

func (s *HTTPServer) handleAIGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	result, err := s.service.GenerateArticle(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Draft != nil {
		status = http.StatusCreated
	}
	writeData(w, status, result)
}

func (s *HTTPServer) handleAITitles(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Topic string `json:"topic"`
		Count int    `json:"count"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	titles, err := s.service.SuggestTitles(r.Context(), sessionFrom(r.Context()), body.Topic, body.Count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"titles": titles})
}

func (s *HTTPServer) handleAIImprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content     string `json:"content"`
		Instruction string `json:"instruction"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	improved, err := s.service.ImproveContent(r.Context(), sessionFrom(r.Context()), body.Content, body.Instruction)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"content": improved})
}

func (s *HTTPServer) handleAISEO(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	suggestion, err := s.service.SuggestSEO(r.Context(), sessionFrom(r.Context()), body.Title, body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, suggestion)
}

func (s *HTTPServer) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.DashboardStats(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, page, err := s.service.Activity(r.Context(), sessionFrom(r.Context()), store.ActivityFilter{
		UserID:     q.Get("userId"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Action:     q.Get("action"),
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, items, page)
}

func (s *HTTPServer) handleAdminSearch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.Search(r.Context(), searchQuery(r), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleReindex(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Reindex(r.Context(), sessionFrom(r.Context()), ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"indexed": count})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListUsers(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, items)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body UserInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.CreateUser(r.Context(), sessionFrom(r.Context()), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body UserInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.UpdateUser(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), body, ratelimit.ClientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteUser(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "id"), ratelimit.ClientIP(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}
