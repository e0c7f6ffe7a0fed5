// Package ai wraps the OpenAI chat API for article drafting and SEO help.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"quill/api/internal/metrics"
)

var (
	ErrAIUnavailable = errors.New("ai provider unavailable")
	ErrAIRateLimited = errors.New("ai provider rate limited")
	ErrAIAuth        = errors.New("ai provider rejected credentials")
	ErrInvalidInput  = errors.New("invalid ai request")
	ErrBadResponse   = errors.New("ai provider returned an unusable response")
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	api    *openai.Client
	model  string
	logger *zap.Logger
}

// New builds a client. Without an API key every call fails with ErrAIUnavailable.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{model: cfg.Model, logger: logger.Named("ai")}
	if c.model == "" {
		c.model = openai.GPT4oMini
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return c
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	c.api = openai.NewClientWithConfig(apiCfg)
	return c
}

func (c *Client) Available() bool {
	return c != nil && c.api != nil
}

// complete sends one system+user exchange and returns the first choice.
func (c *Client) complete(ctx context.Context, operation, system, user string, jsonReply bool, maxTokens int) (string, error) {
	if !c.Available() {
		metrics.RecordAIRequest(operation, "unavailable")
		return "", ErrAIUnavailable
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}
	if jsonReply {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		classified := classify(err)
		metrics.RecordAIRequest(operation, outcome(classified))
		c.logger.Warn("chat completion failed", zap.String("operation", operation), zap.Error(err))
		return "", classified
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.RecordAIRequest(operation, "bad_response")
		return "", fmt.Errorf("%w: empty completion", ErrBadResponse)
	}
	metrics.RecordAIRequest(operation, "ok")
	return resp.Choices[0].Message.Content, nil
}

// classify maps provider failures onto the package errors by HTTP status.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrAIAuth, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrAIRateLimited, err)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrAIAuth):
		return "auth"
	case errors.Is(err, ErrAIRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAIUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// decodeJSON tolerates replies wrapped in a markdown code fence.
func decodeJSON(reply string, out any) error {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")
	}
	if err := json.Unmarshal([]byte(reply), out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
