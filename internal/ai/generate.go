package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"quill/api/internal/content"
)

const (
	maxMetaTitle       = 60
	maxMetaDescription = 160
	maxTitles          = 10
)

var lengthWords = map[string]int{
	"short":  500,
	"medium": 1000,
	"long":   2000,
}

type GenerateRequest struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords"`
	Tone     string   `json:"tone"`
	Length   string   `json:"length"`
	Audience string   `json:"audience"`
}

// Validate fills defaults and rejects requests the prompt cannot serve.
func (r *GenerateRequest) Validate() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(r.Topic) > 500 {
		return fmt.Errorf("%w: topic is too long", ErrInvalidInput)
	}
	r.Length = strings.ToLower(strings.TrimSpace(r.Length))
	if r.Length == "" {
		r.Length = "medium"
	}
	if _, ok := lengthWords[r.Length]; !ok {
		return fmt.Errorf("%w: length must be short, medium or long", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Tone) == "" {
		r.Tone = "informative"
	}
	if strings.TrimSpace(r.Audience) == "" {
		r.Audience = "general readers"
	}
	return nil
}

type GeneratedArticle struct {
	Title           string   `json:"title"`
	Excerpt         string   `json:"excerpt"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags"`
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
}

const articleSystemPrompt = `You are an experienced blog writer. Reply with a single JSON object with the keys
"title", "excerpt", "content", "tags", "metaTitle" and "metaDescription".
"content" is the full article in Markdown without the title heading.
"tags" is an array of at most 8 short lowercase tags.
"metaTitle" is at most 60 characters and "metaDescription" at most 160 characters.`

func (c *Client) GenerateArticle(ctx context.Context, req GenerateRequest) (GeneratedArticle, error) {
	if err := req.Validate(); err != nil {
		return GeneratedArticle{}, err
	}
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write a %s blog article of about %d words on: %s\n", req.Tone, lengthWords[req.Length], req.Topic)
	fmt.Fprintf(&prompt, "Audience: %s\n", req.Audience)
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&prompt, "Work in these keywords naturally: %s\n", strings.Join(req.Keywords, ", "))
	}

	reply, err := c.complete(ctx, "generate", articleSystemPrompt, prompt.String(), true, 4000)
	if err != nil {
		return GeneratedArticle{}, err
	}
	var out GeneratedArticle
	if err := decodeJSON(reply, &out); err != nil {
		return GeneratedArticle{}, err
	}
	return normalizeArticle(out)
}

func normalizeArticle(out GeneratedArticle) (GeneratedArticle, error) {
	out.Title = strings.TrimSpace(out.Title)
	out.Content = strings.TrimSpace(out.Content)
	if out.Title == "" || out.Content == "" {
		return GeneratedArticle{}, fmt.Errorf("%w: title and content are required", ErrBadResponse)
	}
	if strings.TrimSpace(out.Excerpt) == "" {
		out.Excerpt = content.Excerpt(out.Content, 200)
	}
	out.Tags = content.NormalizeTags(out.Tags)
	if strings.TrimSpace(out.MetaTitle) == "" {
		out.MetaTitle = out.Title
	}
	if strings.TrimSpace(out.MetaDescription) == "" {
		out.MetaDescription = out.Excerpt
	}
	out.MetaTitle = truncate(out.MetaTitle, maxMetaTitle)
	out.MetaDescription = truncate(out.MetaDescription, maxMetaDescription)
	return out, nil
}

// SuggestTitles returns up to n headline ideas, default five.
func (c *Client) SuggestTitles(ctx context.Context, topic string, n int) ([]string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if n <= 0 {
		n = 5
	}
	if n > maxTitles {
		n = maxTitles
	}
	system := `You write compelling blog headlines. Reply with a JSON object {"titles": [...]}.`
	reply, err := c.complete(ctx, "titles", system, fmt.Sprintf("Suggest %d titles for an article about: %s", n, topic), true, 500)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Titles []string `json:"titles"`
	}
	if err := decodeJSON(reply, &parsed); err != nil {
		return nil, err
	}
	titles := make([]string, 0, n)
	seen := make(map[string]struct{}, len(parsed.Titles))
	for _, title := range parsed.Titles {
		title = strings.TrimSpace(title)
		key := strings.ToLower(title)
		if title == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		titles = append(titles, title)
		if len(titles) == n {
			break
		}
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("%w: no titles", ErrBadResponse)
	}
	return titles, nil
}

// Improve rewrites markdown following a free-form instruction.
func (c *Client) Improve(ctx context.Context, markdown, instruction string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = "Improve clarity, grammar and flow while keeping the meaning and Markdown structure."
	}
	system := "You are a careful editor. Return only the revised Markdown, with no commentary."
	user := fmt.Sprintf("Instruction: %s\n\n---\n%s", instruction, markdown)
	reply, err := c.complete(ctx, "improve", system, user, false, 4000)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

type SEOSuggestion struct {
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
	Keywords        []string `json:"keywords"`
	Slug            string   `json:"slug"`
}

func (c *Client) GenerateSEO(ctx context.Context, title, markdown string) (SEOSuggestion, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return SEOSuggestion{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	system := `You are an SEO specialist. Reply with a JSON object with the keys "metaTitle" (max 60 characters),
"metaDescription" (max 160 characters), "keywords" (array of up to 10) and "slug".`
	user := fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, content.Excerpt(markdown, 3000))
	reply, err := c.complete(ctx, "seo", system, user, true, 600)
	if err != nil {
		return SEOSuggestion{}, err
	}
	var out SEOSuggestion
	if err := decodeJSON(reply, &out); err != nil {
		return SEOSuggestion{}, err
	}
	if strings.TrimSpace(out.MetaTitle) == "" {
		out.MetaTitle = title
	}
	out.MetaTitle = truncate(out.MetaTitle, maxMetaTitle)
	out.MetaDescription = truncate(out.MetaDescription, maxMetaDescription)
	out.Keywords = content.NormalizeTags(out.Keywords)
	slug := out.Slug
	if strings.TrimSpace(slug) == "" {
		slug = title
	}
	out.Slug = content.Slugify(slug)
	return out, nil
}

func truncate(value string, n int) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) <= n {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
