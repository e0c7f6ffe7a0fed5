// Package email sends transactional and newsletter mail via SMTP or SendGrid.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds provider configuration
type Config struct {
	Provider       string
	Host           string
	Port           string
	Username       string
	Password       string
	From           string
	FromName       string
	SendGridAPIKey string
}

// Message is one outgoing email. Text is optional.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	IsConfigured() bool
}

// NewFromConfig picks the provider named in config, defaulting to SMTP.
func NewFromConfig(config Config) Sender {
	if strings.EqualFold(config.Provider, "sendgrid") {
		return NewSendGridSender(config, nil)
	}
	return NewSMTPSender(config)
}

// SMTPSender provides email sending over SMTP
type SMTPSender struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(config Config) *SMTPSender {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPSender{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *SMTPSender) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}
	return s.send(s.server, s.auth, s.config.From, msg.To, buildMIME(fromHeader(s.config), msg))
}

func fromHeader(config Config) string {
	if config.FromName == "" {
		return config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", config.FromName), config.From)
}

// headerSafe drops line breaks so user-influenced values cannot add headers.
func headerSafe(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

const boundary = "quill-alternative-boundary"

func buildMIME(from string, msg Message) []byte {
	text := msg.Text
	if text == "" {
		text = "Please view this email in an HTML-capable email client."
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", headerSafe(strings.Join(msg.To, ", ")))
	fmt.Fprintf(&buf, "From: %s\r\n", headerSafe(from))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe(msg.Subject)))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "%s\r\n", text)
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "%s\r\n", msg.HTML)
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}
