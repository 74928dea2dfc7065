package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"stockwatch/internal/config"
)

// SMTPMailer 通过 SMTP 推送告警邮件。
type SMTPMailer struct {
	cfg    config.SMTPConfig
	send   sendFunc
	logger zerolog.Logger
}

// sendFunc matches smtp.SendMail, injectable for tests.
type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// NewSMTPMailer 构造邮件告警器。
func NewSMTPMailer(cfg config.SMTPConfig, logger zerolog.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: logger.With().Str("component", "alert_mail").Logger(),
	}
}

// Notify 把告警渲染为纯文本邮件发给关注人。
func (m *SMTPMailer) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	from := m.cfg.SenderAddress()
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	msg := buildMail(from, note.UserEmail, RenderSubject(note), RenderBody(note))
	if err := m.send(addr, auth, from, []string{note.UserEmail}, msg); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}

	m.logger.Info().
		Str("to", note.UserEmail).
		Str("code", note.StockCode).
		Str("direction", string(note.Direction)).
		Msg("告警已发送 (SMTP)")
	return nil
}

// buildMail assembles RFC 5322 headers plus the plain-text body.
func buildMail(from, to, subject, body string) []byte {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("From: %s\r\n", from))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", to))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(body)
	return []byte(builder.String())
}

var _ Notifier = (*SMTPMailer)(nil)
