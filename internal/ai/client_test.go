package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model          string `json:"model"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI answers chat completions with reply, or with the given error status.
func fakeOpenAI(t *testing.T, status int, reply string, seen *chatRequest) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"provider says no","type":"error","code":"x"}}`))
			return
		}
		body, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return New(Config{APIKey: "test-key", Model: "test-model", BaseURL: server.URL + "/v1"}, nil)
}

func TestGenerateArticle(t *testing.T) {
	reply := "```json\n" + `{"title":"Go Concurrency","content":"## Goroutines\n\nThey are cheap.","tags":["Go","go","Concurrency"],"metaDescription":""}` + "\n```"
	var seen chatRequest
	client := fakeOpenAI(t, http.StatusOK, reply, &seen)

	out, err := client.GenerateArticle(context.Background(), GenerateRequest{Topic: "goroutines", Keywords: []string{"channels"}})
	require.NoError(t, err)
	assert.Equal(t, "Go Concurrency", out.Title)
	assert.Equal(t, []string{"go", "concurrency"}, out.Tags)
	assert.Equal(t, "Goroutines They are cheap.", out.Excerpt)
	assert.Equal(t, "Go Concurrency", out.MetaTitle)
	assert.Equal(t, out.Excerpt, out.MetaDescription)

	assert.Equal(t, "test-model", seen.Model)
	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, "json_object", seen.ResponseFormat.Type)
	require.Len(t, seen.Messages, 2)
	assert.Contains(t, seen.Messages[1].Content, "about 1000 words")
	assert.Contains(t, seen.Messages[1].Content, "channels")
}

func TestGenerateArticleValidation(t *testing.T) {
	client := New(Config{APIKey: "k"}, nil)
	_, err := client.GenerateArticle(context.Background(), GenerateRequest{Topic: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = client.GenerateArticle(context.Background(), GenerateRequest{Topic: "x", Length: "epic"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGenerateArticleRejectsIncompleteReply(t *testing.T) {
	client := fakeOpenAI(t, http.StatusOK, `{"title":"Only a title"}`, nil)
	_, err := client.GenerateArticle(context.Background(), GenerateRequest{Topic: "x"})
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestUnconfiguredClient(t *testing.T) {
	client := New(Config{}, nil)
	assert.False(t, client.Available())
	_, err := client.SuggestTitles(context.Background(), "go", 3)
	assert.ErrorIs(t, err, ErrAIUnavailable)
}

func TestProviderErrorsAreClassified(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAIAuth},
		{http.StatusTooManyRequests, ErrAIRateLimited},
		{http.StatusBadGateway, ErrAIUnavailable},
	}
	for _, tc := range cases {
		client := fakeOpenAI(t, tc.status, "", nil)
		_, err := client.Improve(context.Background(), "# Draft", "")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, classify(plain))
}

func TestSuggestTitlesDedupesAndLimits(t *testing.T) {
	client := fakeOpenAI(t, http.StatusOK, `{"titles":["One","one"," Two ","","Three"]}`, nil)
	titles, err := client.SuggestTitles(context.Background(), "go", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two"}, titles)
}

func TestGenerateSEO(t *testing.T) {
	long := strings.Repeat("a", 200)
	client := fakeOpenAI(t, http.StatusOK, `{"metaTitle":"","metaDescription":"`+long+`","keywords":["Go","Web"],"slug":"Go Web Ápps"}`, nil)
	out, err := client.GenerateSEO(context.Background(), "Building web apps in Go", "Body")
	require.NoError(t, err)
	assert.Equal(t, "Building web apps in Go", out.MetaTitle)
	assert.Equal(t, 160, len([]rune(out.MetaDescription)))
	assert.Equal(t, []string{"go", "web"}, out.Keywords)
	assert.Equal(t, "go-web-apps", out.Slug)
}

func TestImproveReturnsTrimmedText(t *testing.T) {
	client := fakeOpenAI(t, http.StatusOK, "\n# Better draft\n", nil)
	out, err := client.Improve(context.Background(), "# draft", "fix grammar")
	require.NoError(t, err)
	assert.Equal(t, "# Better draft", out)
}
