package mail

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
)

var ErrNoRecipients = errors.New("mail: no recipients configured")

// SendFunc matches smtp.SendMail so tests can capture outgoing messages.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain text emails via SMTP
type SMTPMailer struct {
	cfg  config.Mail
	send SendFunc
}

func NewSMTPMailer(cfg config.Mail) *SMTPMailer {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// WithSendFunc replaces the SMTP transport.
func (m *SMTPMailer) WithSendFunc(send SendFunc) *SMTPMailer {
	m.send = send
	return m
}

// AdminRecipients are the addresses that receive operational emails.
func (m *SMTPMailer) AdminRecipients() []string {
	return m.cfg.AdminEmails
}

// Send delivers one message to every address in to.
func (m *SMTPMailer) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.cfg.Sender, strings.Join(to, ", "), subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			strings.ReplaceAll(body, "\n", "\r\n"),
	)

	if err := m.send(addr, auth, m.cfg.Sender, to, msg); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return err
	}
	log.Infof("[Mail] Email %q sent to %d recipient(s) via %s", subject, len(to), addr)
	return nil
}
