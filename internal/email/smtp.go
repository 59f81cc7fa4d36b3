package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/mailsweep/mailsweep/internal/config"
)

// SMTPSender delivers unsubscribe mail over plain SMTP, for accounts whose
// provider exposes submission directly (app passwords).
type SMTPSender struct {
	config config.SMTPConfig
	from   string
}

func NewSMTPSender(cfg config.SMTPConfig, from string) *SMTPSender {
	return &SMTPSender{config: cfg, from: from}
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, msg Message) Result {
	if msg.From == "" {
		msg.From = s.from
	}
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}

	payload := buildRFC822(msg)
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var err error
	if s.config.UseTLS {
		err = s.deliverTLS(ctx, addr, msg.From, msg.To, payload)
	} else if s.config.Username != "" {
		// Never send credentials over a cleartext connection
		err = fmt.Errorf("SMTP auth requires TLS")
	} else {
		err = smtp.SendMail(addr, nil, msg.From, []string{msg.To}, payload)
	}
	if err != nil {
		return Result{Success: false, Error: sanitizeSMTPError(err)}
	}

	return Result{
		Success:   true,
		MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixNano()),
	}
}

// buildRFC822 assembles the wire form of one plain-text message. The
// Auto-Submitted header (RFC 3834) marks it as machine-generated so list
// software does not treat it as a human reply.
func buildRFC822(msg Message) []byte {
	headers := []string{
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"Auto-Submitted: auto-generated",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body)
}

func (s *SMTPSender) deliverTLS(ctx context.Context, addr, from, to string, payload []byte) error {
	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("TLS connection failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("SMTP handshake failed: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("sender rejected: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("recipient rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message finalization failed: %w", err)
	}
	return client.Quit()
}

// sanitizeSMTPError strips server detail that could leak credentials or
// internal hostnames into logs.
func sanitizeSMTPError(err error) error {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "auth"):
		return fmt.Errorf("SMTP authentication failed")
	case strings.Contains(s, "certificate"):
		return fmt.Errorf("TLS certificate error")
	default:
		return fmt.Errorf("SMTP error: check your configuration")
	}
}
