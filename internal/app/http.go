package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"quill/api/internal/export"
	"quill/api/internal/logging"
	"quill/api/internal/metrics"
	"quill/api/internal/ratelimit"
	"quill/api/internal/rbac"
)

type HTTPServer struct {
	service     *Service
	corsOrigins []string
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
	trustProxy  bool
}

type HTTPOptions struct {
	CORSOrigins []string
	// Limiter guards login, password reset, comment and subscribe endpoints.
	// Nil disables rate limiting.
	Limiter *ratelimit.Limiter
	Logger  *zap.Logger
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:     service,
		corsOrigins: opts.CORSOrigins,
		limiter:     opts.Limiter,
		logger:      logger,
		trustProxy:  opts.TrustProxy,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.withMiddleware)
	r.Use(s.recoverer)
	r.Use(metrics.InstrumentHandler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/rss.xml", s.handleRSS)
	r.Get("/sitemap.xml", s.handleSitemap)

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/articles", s.handlePublicArticles)
		r.Get("/articles/{slug}", s.handlePublicArticle)
		r.Get("/articles/{slug}/related", s.handleRelated)
		r.Get("/articles/{slug}/meta", s.handleArticleMeta)
		r.Get("/articles/{slug}/comments", s.handlePublicComments)
		r.With(s.rateLimited).Post("/articles/{slug}/comments", s.handlePostComment)
		r.Get("/categories", s.handlePublicCategories)
		r.Get("/search", s.handlePublicSearch)
		r.Get("/settings", s.handlePublicSettings)
		r.With(s.rateLimited).Post("/newsletter/subscribe", s.handleSubscribe)
		r.Get("/newsletter/confirm", s.handleConfirmSubscription)
		r.Get("/newsletter/unsubscribe", s.handleUnsubscribe)
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.With(s.rateLimited).Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.With(s.rateLimited).Post("/forgot-password", s.handleForgotPassword)
		r.With(s.rateLimited).Post("/reset-password", s.handleResetPassword)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Post("/change-password", s.handleChangePassword)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleListArticles)
			r.Post("/", s.handleCreateArticle)
			r.Get("/export", s.handleExportArticles)
			r.With(s.require(rbac.ActionPublish)).Post("/publish-due", s.handlePublishDue)
			r.Post("/bulk", s.handleBulkArticles)
			r.Get("/{id}", s.handleGetArticle)
			r.Put("/{id}", s.handleUpdateArticle)
			r.Delete("/{id}", s.handleDeleteArticle)
			r.Post("/{id}/duplicate", s.handleDuplicateArticle)
			r.Post("/{id}/{action:publish|unpublish|schedule|archive|restore}", s.handleArticleAction)
			r.Get("/{id}/versions", s.handleArticleVersions)
			r.Get("/{id}/versions/{hash}", s.handleArticleVersion)
			r.Post("/{id}/versions/{hash}/restore", s.handleRestoreVersion)
			r.Get("/{id}/pdf", s.handleArticlePDF)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Get("/{id}", s.handleGetCategory)
			r.Group(func(r chi.Router) {
				r.Use(s.require(rbac.ActionManage))
				r.Post("/", s.handleCreateCategory)
				r.Put("/{id}", s.handleUpdateCategory)
				r.Delete("/{id}", s.handleDeleteCategory)
			})
		})

		r.Route("/authors", func(r chi.Router) {
			r.Get("/", s.handleListAuthors)
			r.Get("/{id}", s.handleGetAuthor)
			r.Put("/{id}", s.handleUpdateAuthor)
			r.With(s.require(rbac.ActionManage)).Post("/", s.handleCreateAuthor)
			r.With(s.require(rbac.ActionManage)).Delete("/{id}", s.handleDeleteAuthor)
		})

		r.Route("/comments", func(r chi.Router) {
			r.Use(s.require(rbac.ActionModerate))
			r.Get("/", s.handleListComments)
			r.Get("/export", s.handleExportComments)
			r.Post("/bulk", s.handleBulkComments)
			r.Patch("/{id}", s.handleModerateComment)
			r.Delete("/{id}", s.handleDeleteComment)
			r.Post("/{id}/reply", s.handleReplyComment)
		})

		r.Route("/media", func(r chi.Router) {
			r.Get("/", s.handleListMedia)
			r.Post("/", s.handleUploadMedia)
			r.Patch("/{id}", s.handleUpdateMedia)
			r.Delete("/{id}", s.handleDeleteMedia)
		})

		r.Get("/settings", s.handleGetSettings)
		r.With(s.require(rbac.ActionManage)).Put("/settings", s.handleUpdateSettings)

		r.Route("/newsletter", func(r chi.Router) {
			r.Use(s.require(rbac.ActionManage))
			r.Get("/subscribers", s.handleListSubscribers)
			r.Get("/subscribers/export", s.handleExportSubscribers)
			r.Delete("/subscribers/{id}", s.handleDeleteSubscriber)
			r.Get("/campaigns", s.handleListNewsletters)
			r.Post("/campaigns", s.handleCreateNewsletter)
			r.Put("/campaigns/{id}", s.handleUpdateNewsletter)
			r.Post("/campaigns/{id}/send", s.handleSendNewsletter)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Use(s.require(rbac.ActionWrite))
			r.Post("/generate", s.handleAIGenerate)
			r.Post("/titles", s.handleAITitles)
			r.Post("/improve", s.handleAIImprove)
			r.Post("/seo", s.handleAISEO)
		})

		r.Get("/dashboard/stats", s.handleDashboardStats)
		r.Get("/activity", s.handleActivity)
		r.Get("/search", s.handleAdminSearch)
		r.With(s.require(rbac.ActionAdmin)).Post("/search/reindex", s.handleReindex)

		r.Route("/users", func(r chi.Router) {
			r.Use(s.require(rbac.ActionAdmin))
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleCreateUser)
			r.Put("/{id}", s.handleUpdateUser)
			r.Delete("/{id}", s.handleDeleteUser)
		})
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"success": status == "ready",
		"data": map[string]any{
			"status": status,
			"checks": checks,
		},
	})
}

type sessionKey struct{}

// authenticate resolves the bearer token into a Session on the request context.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(zap.String("user_id", session.UserID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) Session {
	session, _ := ctx.Value(sessionKey{}).(Session)
	return session
}

// require rejects sessions whose role lacks action.
func (s *HTTPServer) require(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r.Context())
			if !s.service.Can(session.Role, action) {
				logging.FromContext(r.Context()).Info("permission denied",
					zap.String("role", session.Role),
					zap.String("action", string(action)),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HTTPServer) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		logger := s.logger.With(zap.String("request_id", requestID))
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.setCORSHeaders(writer.Header(), r.Header.Get("Origin"))
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(writer, r)

		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
			zap.String("ip", ratelimit.ClientIP(r)),
		)
	})
}

// recoverer turns handler panics into a logged 500 with the error envelope.
func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.FromContext(r.Context()).Error("panic serving request",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *HTTPServer) setCORSHeaders(header http.Header, origin string) {
	allowed := ""
	switch {
	case slices.Contains(s.corsOrigins, "*"):
		allowed = "*"
	case origin != "" && slices.Contains(s.corsOrigins, origin):
		allowed = origin
		header.Add("Vary", "Origin")
	}
	if allowed != "" {
		header.Set("Access-Control-Allow-Origin", allowed)
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writePage(w http.ResponseWriter, data any, page any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data, "pagination": page})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// fail maps err to the error envelope. Server errors are logged with their cause.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

const maxBodyBytes = 2 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeOrFail decodes the body and writes a 400 on failure.
func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(w, r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryBool(r *http.Request, key string) *bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}

// queryTime accepts RFC 3339 timestamps or plain dates.
func queryTime(r *http.Request, key string) *time.Time {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if value, err := time.Parse(layout, raw); err == nil {
			return &value
		}
	}
	return nil
}
