package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		// Raw HTML passes through the renderer and is cleaned by the UGC policy.
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	articlePolicy = newArticlePolicy()
	strictPolicy  = bluemonday.StrictPolicy()
)

func newArticlePolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")
	policy.RequireNoFollowOnFullyQualifiedLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// RenderMarkdown converts article markdown to sanitized HTML.
func RenderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return SanitizeArticleHTML(buf.String()), nil
}

func SanitizeArticleHTML(raw string) string {
	return articlePolicy.Sanitize(raw)
}

// SanitizeComment strips every tag from visitor input, leaving escaped text.
func SanitizeComment(raw string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(raw))
}
