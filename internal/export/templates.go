package export

import (
	"bytes"
	"html/template"
	"time"
)

var articleTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4; margin: 2cm; }
    body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; max-width: 800px; margin: 0 auto; color: #222; }
    h1 { font-size: 2em; margin-bottom: 0.2em; }
    .excerpt { font-size: 1.1em; color: #555; }
    .meta { color: #666; font-size: 0.9em; border-bottom: 1px solid #ddd; padding-bottom: 1rem; margin-bottom: 2rem; }
    img { max-width: 100%; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
    .tags span { display: inline-block; background: #eee; border-radius: 3px; padding: 0 6px; margin-right: 4px; font-size: 0.8em; }
  </style>
</head>
<body>
  {{if .CoverImageURL}}<img src="{{.CoverImageURL}}" alt="">{{end}}
  <h1>{{.Title}}</h1>
  {{if .Excerpt}}<p class="excerpt">{{.Excerpt}}</p>{{end}}
  <div class="meta">
    {{if .Author}}{{.Author}} · {{end}}{{if .Category}}{{.Category}} · {{end}}{{if not .PublishedAt.IsZero}}{{.PublishedAt.Format "January 2, 2006"}} · {{end}}{{.ReadingTime}} min read
  </div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .Tags}}<p class="tags">{{range .Tags}}<span>#{{.}}</span>{{end}}</p>{{end}}
  {{if .SiteName}}<p class="meta">{{.SiteName}}</p>{{end}}
</body>
</html>`))

// TemplateData holds data for the printable article page
type TemplateData struct {
	Title         string
	Excerpt       string
	ContentHTML   template.HTML
	CoverImageURL string
	Author        string
	Category      string
	Tags          []string
	ReadingTime   int
	PublishedAt   time.Time
	SiteName      string
}

// RenderArticleHTML renders the printable article page. ContentHTML must
// already be sanitized.
func RenderArticleHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := articleTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
