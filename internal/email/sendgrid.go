package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridSender delivers messages through the SendGrid v3 mail API.
type SendGridSender struct {
	config Config
	host   string
	client *rest.Client
}

func NewSendGridSender(config Config, client *http.Client) *SendGridSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SendGridSender{config: config, host: sendGridHost, client: &rest.Client{HTTPClient: client}}
}

func (s *SendGridSender) IsConfigured() bool {
	return s.config.SendGridAPIKey != "" && s.config.From != ""
}

// Send delivers one message. Each recipient gets its own personalization so
// addresses are not disclosed to each other.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.config.FromName, s.config.From))
	m.Subject = headerSafe(msg.Subject)
	for _, to := range msg.To {
		p := mail.NewPersonalization()
		p.AddTos(mail.NewEmail("", to))
		m.AddPersonalizations(p)
	}
	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	m.AddContent(mail.NewContent("text/html", msg.HTML))

	req := sendgrid.GetRequest(s.config.SendGridAPIKey, sendGridEndpoint, s.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(m)

	resp, err := s.client.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(resp.Body)
		if len(detail) > 2048 {
			detail = detail[:2048]
		}
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
