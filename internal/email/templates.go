package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"quill/api/internal/metrics"
)

// Mailer renders the site's templates and hands them to a Sender.
type Mailer struct {
	sender   Sender
	siteName string
	siteURL  string
	logger   *zap.Logger
}

func NewMailer(sender Sender, siteName, siteURL string, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{sender: sender, siteName: siteName, siteURL: siteURL, logger: logger.Named("email")}
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.sender != nil && m.sender.IsConfigured()
}

type ConfirmData struct {
	SiteName   string
	Name       string
	ConfirmURL string
}

type WelcomeData struct {
	SiteName       string
	SiteURL        string
	Name           string
	UnsubscribeURL string
}

type NewsletterData struct {
	SiteName       string
	SiteURL        string
	Subject        string
	Body           template.HTML
	UnsubscribeURL string
}

type CommentNotice struct {
	SiteName     string
	ArticleTitle string
	ArticleURL   string
	AuthorName   string
	AuthorEmail  string
	Excerpt      string
	Status       string
	ModerateURL  string
}

type PasswordResetData struct {
	SiteName string
	UserName string
	ResetURL string
}

func (m *Mailer) SendConfirmation(ctx context.Context, to, name, confirmURL string) error {
	data := ConfirmData{SiteName: m.siteName, Name: name, ConfirmURL: confirmURL}
	return m.deliver(ctx, "confirm", []string{to}, "Confirm your subscription to "+m.siteName, data)
}

func (m *Mailer) SendWelcome(ctx context.Context, to, name, unsubscribeURL string) error {
	data := WelcomeData{SiteName: m.siteName, SiteURL: m.siteURL, Name: name, UnsubscribeURL: unsubscribeURL}
	return m.deliver(ctx, "welcome", []string{to}, "Welcome to "+m.siteName, data)
}

// SendNewsletter sends one issue to one subscriber. bodyHTML must already be
// sanitized.
func (m *Mailer) SendNewsletter(ctx context.Context, to, subject, bodyHTML, unsubscribeURL string) error {
	data := NewsletterData{
		SiteName:       m.siteName,
		SiteURL:        m.siteURL,
		Subject:        subject,
		Body:           template.HTML(bodyHTML),
		UnsubscribeURL: unsubscribeURL,
	}
	return m.deliver(ctx, "newsletter", []string{to}, subject, data)
}

func (m *Mailer) SendCommentNotification(ctx context.Context, to []string, notice CommentNotice) error {
	if len(to) == 0 {
		return nil
	}
	notice.SiteName = m.siteName
	subject := fmt.Sprintf("New comment on %q", notice.ArticleTitle)
	return m.deliver(ctx, "comment_notification", to, subject, notice)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, userName, resetURL string) error {
	data := PasswordResetData{SiteName: m.siteName, UserName: userName, ResetURL: resetURL}
	return m.deliver(ctx, "password_reset", []string{to}, "Reset your "+m.siteName+" password", data)
}

func (m *Mailer) deliver(ctx context.Context, name string, to []string, subject string, data any) error {
	if !m.Enabled() {
		return ErrNotConfigured
	}
	html, err := Render(name, data)
	if err != nil {
		return err
	}
	err = m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html})
	metrics.RecordEmail(name, err)
	if err != nil {
		m.logger.Warn("send email failed", zap.String("template", name), zap.Int("recipients", len(to)), zap.Error(err))
	}
	return err
}

// Render executes a named template from the built-in set.
func Render(name string, data any) (string, error) {
	tmpl := templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

var templates = template.Must(template.New("email").Parse(`
{{define "style"}}<style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { border-bottom: 2px solid #1f2937; padding-bottom: 10px; margin-bottom: 20px; }
    .button { display: inline-block; padding: 12px 24px; background: #1f2937; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    .link { word-break: break-all; color: #1f2937; }
    .quote { border-left: 3px solid #ddd; padding-left: 12px; color: #555; }
</style>{{end}}

{{define "confirm"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Confirm your subscription</title>{{template "style"}}</head>
<body>
    <div class="header"><h1>{{.SiteName}}</h1></div>
    <p>Hi{{if .Name}} {{.Name}}{{end}},</p>
    <p>Please confirm that you want to receive the {{.SiteName}} newsletter.</p>
    <p><a href="{{.ConfirmURL}}" class="button">Confirm subscription</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ConfirmURL}}</p>
    <div class="footer"><p>If you did not sign up, ignore this email and you will not hear from us again.</p></div>
</body>
</html>{{end}}

{{define "welcome"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Welcome to {{.SiteName}}</title>{{template "style"}}</head>
<body>
    <div class="header"><h1>{{.SiteName}}</h1></div>
    <h2>Welcome{{if .Name}}, {{.Name}}{{end}}!</h2>
    <p>Your subscription is confirmed. New issues will land in this inbox.</p>
    <p><a href="{{.SiteURL}}" class="button">Read the latest articles</a></p>
    <div class="footer"><p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p></div>
</body>
</html>{{end}}

{{define "newsletter"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title>{{template "style"}}</head>
<body>
    <div class="header"><h1><a href="{{.SiteURL}}">{{.SiteName}}</a></h1></div>
    {{.Body}}
    <div class="footer">
        <p>You receive this email because you subscribed to {{.SiteName}}.</p>
        <p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>
    </div>
</body>
</html>{{end}}

{{define "comment_notification"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>New comment</title>{{template "style"}}</head>
<body>
    <div class="header"><h1>{{.SiteName}}</h1></div>
    <p><strong>{{.AuthorName}}</strong>{{if .AuthorEmail}} ({{.AuthorEmail}}){{end}} commented on <a href="{{.ArticleURL}}">{{.ArticleTitle}}</a>:</p>
    <p class="quote">{{.Excerpt}}</p>
    <p>Status: {{.Status}}</p>
    <p><a href="{{.ModerateURL}}" class="button">Moderate comments</a></p>
</body>
</html>{{end}}

{{define "password_reset"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reset your {{.SiteName}} password</title>{{template "style"}}</head>
<body>
    <div class="header"><h1>{{.SiteName}}</h1></div>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to create a new password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <p><strong>Important:</strong> This reset link will expire in 1 hour.</p>
    <div class="footer"><p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p></div>
</body>
</html>{{end}}
`))
