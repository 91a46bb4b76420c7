package notify

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"contactbook/internal/config"

	"gopkg.in/gomail.v2"
)

// ErrNotConfigured SMTP 配置不完整。
var ErrNotConfigured = errors.New("email config missing")

// Throttle 限制 SMTP 发送速率。
type Throttle interface {
	Acquire(ctx context.Context, key string) error
}

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg      *config.EmailConfig
	logger   *slog.Logger
	throttle Throttle
	send     func(m *gomail.Message) error
}

// NewEmailNotifier 创建邮件通知器，throttle 可为 nil。
func NewEmailNotifier(cfg *config.EmailConfig, throttle Throttle, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:      cfg,
		logger:   logger,
		throttle: throttle,
	}
	n.send = func(m *gomail.Message) error {
		return gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass).DialAndSend(m)
	}
	return n
}

var verificationTmpl = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>{{.AppName}}</h2>
    <p>Hello {{.Email}},</p>
    <p>Please confirm your email address by following the link below:</p>
    <p><a href="{{.Link}}" style="display:inline-block;padding:12px 20px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px;">Confirm email</a></p>
    <p style="font-size:12px;color:#6b7280;">If the button does not work, copy this address into your browser:<br>{{.Link}}</p>
  </div>
</body>
</html>`))

// SendVerificationEmail 发送带确认链接的邮件。
func (n *EmailNotifier) SendVerificationEmail(ctx context.Context, to string, token string, baseURL string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	body, err := n.verificationBody(to, VerificationLink(baseURL, token))
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.cfg.FromEmail, n.cfg.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Confirm your email")
	m.SetBody("text/html", body)

	if n.throttle != nil {
		if err := n.throttle.Acquire(ctx, "smtp"); err != nil {
			return fmt.Errorf("wait smtp slot: %w", err)
		}
	}
	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("verification email sent", slog.String("to", to))
	}
	return nil
}

func (n *EmailNotifier) verificationBody(to, link string) (string, error) {
	appName := n.cfg.FromName
	if appName == "" {
		appName = "Contact Book"
	}
	var sb strings.Builder
	err := verificationTmpl.Execute(&sb, struct {
		AppName string
		Email   string
		Link    string
	}{appName, to, link})
	if err != nil {
		return "", fmt.Errorf("render verification email: %w", err)
	}
	return sb.String(), nil
}
