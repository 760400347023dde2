package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"lesionlog/internal/config"
	"lesionlog/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// ErrNotConfigured 在 SMTP 配置缺失时返回。
var ErrNotConfigured = errors.New("email config missing")

// sender 抽象 gomail.Dialer，便于测试替换。
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	sender sender
}

// NewEmailNotifier 创建一个新的邮件通知器，SMTP dialer 只在这里构建一次。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	if cfg != nil && cfg.SMTPHost != "" {
		n.sender = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	}
	return n
}

func (n *EmailNotifier) configured() bool {
	return n.sender != nil && n.cfg != nil && n.cfg.FromEmail != ""
}

// SendWelcome 发送欢迎邮件。
func (n *EmailNotifier) SendWelcome(ctx context.Context, toEmail string, username string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome to Lesion Log, %s</h2>
    <p>Your account has been created. You can now sign in and start recording predictions.</p>
  </div>
</body>
</html>`, html.EscapeString(username))

	return n.deliver(ctx, "welcome", toEmail, "Welcome to Lesion Log", body)
}

// SendPasswordReset 发送重置密码邮件。
func (n *EmailNotifier) SendPasswordReset(ctx context.Context, toEmail string, link string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Password reset</h2>
    <p>Click the link below to choose a new password. The link is valid for 15 minutes.</p>
    <p><a href="%s" target="_blank">%s</a></p>
    <p>If you did not request a reset, ignore this email.</p>
  </div>
</body>
</html>`, html.EscapeString(link), html.EscapeString(link))

	return n.deliver(ctx, "reset", toEmail, "Password reset request", body)
}

// SendReport 发送报表邮件，附件在调用前必须已写完并关闭。
func (n *EmailNotifier) SendReport(ctx context.Context, toEmail string, attachmentPath string, filename string, rangeLabel string) error {
	if strings.TrimSpace(attachmentPath) == "" {
		return fmt.Errorf("report attachment path empty")
	}
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Prediction report</h2>
    <p>Attached is the prediction report for %s.</p>
  </div>
</body>
</html>`, html.EscapeString(rangeLabel))

	m := n.message(toEmail, "Prediction report "+rangeLabel, body)
	if filename == "" {
		m.Attach(attachmentPath)
	} else {
		m.Attach(attachmentPath, gomail.Rename(filename))
	}
	return n.send(ctx, "report", toEmail, m)
}

func (n *EmailNotifier) deliver(ctx context.Context, kind string, toEmail string, subject string, body string) error {
	return n.send(ctx, kind, toEmail, n.message(toEmail, subject, body))
}

func (n *EmailNotifier) message(toEmail string, subject string, body string) *gomail.Message {
	m := gomail.NewMessage()
	if n.cfg != nil {
		m.SetHeader("From", n.cfg.FromEmail)
	}
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[Lesion Log] "+subject)
	m.SetBody("text/html", body)
	return m
}

func (n *EmailNotifier) send(ctx context.Context, kind string, toEmail string, m *gomail.Message) error {
	if !n.configured() {
		metrics.EmailsSentTotal.WithLabelValues(kind, "skipped").Inc()
		return ErrNotConfigured
	}
	if strings.TrimSpace(toEmail) == "" {
		metrics.EmailsSentTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(kind, "error").Inc()
		return err
	}

	if err := n.sender.DialAndSend(m); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.EmailsSentTotal.WithLabelValues(kind, "ok").Inc()
	n.logger.Info("email sent", slog.String("kind", kind), slog.String("to", toEmail))
	return nil
}
