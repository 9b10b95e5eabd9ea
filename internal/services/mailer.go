package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"gift-journal-backend/internal/config"
)

// Mailer delivers transactional email over SMTP. All sends happen from
// detached tasks; callers never block a response on delivery.
type Mailer struct {
	cfg config.SMTPConfig
}

// NewMailer creates a new mailer
func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// Enabled reports whether outbound mail is configured at all.
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != "" && m.cfg.From != ""
}

func (m *Mailer) send(to, subject, body string) error {
	if !m.Enabled() {
		return fmt.Errorf("smtp is not configured")
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg))
}

// SendVerificationCode mails a signup or password-reset code.
func (m *Mailer) SendVerificationCode(_ context.Context, to, code string, ttlMinutes int) error {
	subject := "Your verification code"
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, ttlMinutes)
	return m.send(to, subject, body)
}

// SendBindingInvite mails the target a confirmation link for a binding
// request.
func (m *Mailer) SendBindingInvite(_ context.Context, to, requesterName, confirmURL string) error {
	subject := fmt.Sprintf("%s wants to connect with you", requesterName)
	body := fmt.Sprintf("%s sent you a partner request.\n\nAccept it here: %s\n\nIf you don't recognize this request you can ignore this email.",
		requesterName, confirmURL)
	return m.send(to, subject, body)
}
