package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerLabelsByRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(InstrumentHandler)
	router.Get("/api/articles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/articles/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/articles/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/articles/{id}", "418"))
	if after-before != 3 {
		t.Fatalf("expected 3 requests recorded under the route pattern, got %v", after-before)
	}
}

func TestRecorders(t *testing.T) {
	RecordJobRun("publish-due", 20*time.Millisecond, true)
	if got := testutil.ToFloat64(jobRuns.WithLabelValues("publish-due", "true")); got < 1 {
		t.Fatalf("job run not recorded: %v", got)
	}

	before := testutil.ToFloat64(articlesPublished)
	RecordScheduledPublications(2)
	RecordScheduledPublications(0)
	if got := testutil.ToFloat64(articlesPublished) - before; got != 2 {
		t.Fatalf("expected 2 publications, got %v", got)
	}

	RecordEmail("welcome", errors.New("smtp down"))
	if got := testutil.ToFloat64(emailsSent.WithLabelValues("welcome", "failed")); got < 1 {
		t.Fatalf("failed email not recorded: %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordAIRequest("generate", "ok")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "quill_ai_requests_total") {
		t.Fatalf("metrics output missing ai counter")
	}
}
