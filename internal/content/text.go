package content

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	wordsPerMinute = 200
	MaxTags        = 20
)

var (
	fencedCode   = regexp.MustCompile("(?s)```.*?```")
	markdownLink = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	markdownMark = regexp.MustCompile("(?m)^\\s{0,3}(#{1,6}|>|[-*+]|\\d+\\.)\\s+")
	inlineMark   = regexp.MustCompile("[*_`~]+")
	htmlTag      = regexp.MustCompile(`<[^>]*>`)
)

// PlainText strips the markdown syntax that matters for previews and word counts.
func PlainText(markdown string) string {
	text := fencedCode.ReplaceAllString(markdown, " ")
	text = markdownLink.ReplaceAllString(text, "$1")
	text = markdownMark.ReplaceAllString(text, "")
	text = htmlTag.ReplaceAllString(text, " ")
	text = inlineMark.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func WordCount(markdown string) int {
	return len(strings.Fields(PlainText(markdown)))
}

// ReadingTime is the whole number of minutes needed at 200 words a minute,
// never less than one.
func ReadingTime(markdown string) int {
	minutes := int(math.Ceil(float64(WordCount(markdown)) / wordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Excerpt cuts the plain text to at most n characters on a word boundary.
func Excerpt(markdown string, n int) string {
	text := PlainText(markdown)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	cut := []rune(text)[:n]
	if idx := strings.LastIndexByte(string(cut), ' '); idx > 0 {
		return strings.TrimRight(string(cut)[:idx], " ,.;:") + "…"
	}
	return string(cut) + "…"
}

func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.Join(strings.Fields(tag), " "))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
