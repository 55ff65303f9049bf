package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"viewpulse/internal/model"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Subject  string
}

// EmailSender delivers plain-text mail through an SMTP relay.
type EmailSender struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg EmailConfig) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Subject == "" {
		cfg.Subject = "viewpulse alert"
	}
	return &EmailSender{cfg: cfg, send: smtp.SendMail}
}

func (s *EmailSender) Channel() model.Channel {
	return model.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, recipient, message string) error {
	if strings.ContainsAny(recipient, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	body := buildMail(s.cfg.From, recipient, s.cfg.Subject, message, time.Now())

	// smtp.SendMail has no context; run it aside so cancellation is honoured.
	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.From, []string{recipient}, body)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMail(from, to, subject, message string, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + now.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
