// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
)

// ErrNotConfigured is returned when no SMTP host or sender is set.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	return NewServiceWithSender(config, smtp.SendMail)
}

// NewServiceWithSender replaces the SMTP transport, mainly for tests.
func NewServiceWithSender(config Config, send SendFunc) *Service {
	if config.AppName == "" {
		config.AppName = "Canvas"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   send,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := s.buildMessage(to, subject, textBody, htmlBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}

	boundary := "boundary-canvas"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// WelcomeData holds data for the welcome template
type WelcomeData struct {
	AppName  string
	UserName string
}

// SendWelcome greets a newly registered user.
func (s *Service) SendWelcome(to, userName string) error {
	data := WelcomeData{AppName: s.config.AppName, UserName: userName}

	html, err := renderTemplate(data)
	if err != nil {
		return fmt.Errorf("render welcome template: %w", err)
	}
	text := fmt.Sprintf("Welcome to %s, %s!\n\nYour first workspace is created the first time you open the app.", data.AppName, data.UserName)
	return s.SendHTMLEmail([]string{to}, "Welcome to "+data.AppName, text, html)
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(welcomeEmailTemplate))

func renderTemplate(data WelcomeData) (string, error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const welcomeEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome to {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Your account is ready. Your first workspace is created the first time you open the app.</p>

    <p>Add notes, images and datasets to a workspace, then ask the assistant to summarize, chart or quiz you on them.</p>

    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`
