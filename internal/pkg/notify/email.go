package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"taskhub/internal/config"
	"taskhub/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendActivationLink 发送账户激活邮件。
func (n *EmailNotifier) SendActivationLink(toEmail string, link string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskHub] Activate your account")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>TaskHub account activation</h2>
    <p>Click the link below to activate your account:</p>
    <p><a href="%s">%s</a></p>
    <p>The link expires shortly and can only be used once.</p>
  </div>
</body>
</html>`, link, link)
	m.SetBody("text/html", body)

	if err := n.dialAndSend(m); err != nil {
		metrics.MailFailedTotal.Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.MailSentTotal.Inc()
	n.logger.Info("activation email sent", slog.String("to", toEmail))
	return nil
}

// SendPasswordChanged 发送密码已修改的提示邮件。
func (n *EmailNotifier) SendPasswordChanged(toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		// 未配置邮件时跳过提示，不视为错误
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskHub] Your password was changed")

	body := `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Password changed</h2>
    <p>The password for your TaskHub account was just changed.</p>
    <p>If this was not you, contact support immediately.</p>
  </div>
</body>
</html>`
	m.SetBody("text/html", body)

	if err := n.dialAndSend(m); err != nil {
		metrics.MailFailedTotal.Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.MailSentTotal.Inc()
	n.logger.Info("password change email sent", slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	return d.DialAndSend(m)
}
