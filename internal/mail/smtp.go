package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/pkg/logger"
)

var (
	ErrNotConfigured = errors.New("mail transport not configured")
	ErrNoRecipients  = errors.New("message has no recipients")
)

// Sender delivers a single plain-text message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To      []string
	ReplyTo string
	Subject string
	Body    string
	// Kind labels metrics ("approval", "contact_notice", ...).
	Kind string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Configured() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	kind := msg.Kind
	if kind == "" {
		kind = "generic"
	}

	err := s.send(ctx, msg)
	if err != nil {
		metrics.EmailsSent.WithLabelValues(kind, "error").Inc()
		logger.Error("Failed to send email",
			zap.String("kind", kind),
			zap.Strings("to", msg.To),
			zap.Error(err),
		)
		return err
	}

	metrics.EmailsSent.WithLabelValues(kind, "ok").Inc()
	logger.Info("Email sent", zap.String("kind", kind), zap.Strings("to", msg.To))
	return nil
}

func (s *SMTPSender) send(ctx context.Context, msg Message) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	content, err := Compose(s.cfg.From, msg, time.Now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	if s.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}

	// The message is accepted at this point; QUIT errors are not delivery failures.
	_ = client.Quit()
	return nil
}

// Compose renders msg as a text/plain utf-8 RFC 5322 message.
func Compose(from string, msg Message, date time.Time) ([]byte, error) {
	fromAddr, err := gomail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}

	to := make([]*gomail.Address, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := gomail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", raw, err)
		}
		to = append(to, addr)
	}

	var h gomail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*gomail.Address{fromAddr})
	h.SetAddressList("To", to)
	if msg.ReplyTo != "" {
		if replyTo, err := gomail.ParseAddress(msg.ReplyTo); err == nil {
			h.SetAddressList("Reply-To", []*gomail.Address{replyTo})
		}
	}
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), nil
}
