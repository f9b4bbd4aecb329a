package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

type Sender interface {
	Send(ctx context.Context, to []string, subject, html, text string) error
}

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type sender struct {
	cfg    Config
	logger *slog.Logger
}

func (s *sender) Send(ctx context.Context, to []string, subject, html, text string) error {
	if len(to) == 0 {
		return nil
	}

	if s.cfg.Host == "" {
		s.logger.Info("email delivery disabled, dropping message",
			slog.String("subject", subject),
			slog.Any("to", to))
		return nil
	}

	msg, err := buildMessage(s.cfg.From, to, subject, html, text)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(net.JoinHostPort(s.cfg.Host, s.cfg.Port), auth, s.cfg.From, to, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-done:
		if err != nil {
			return fmt.Errorf("failed to send mail: %w", err)
		}
		return nil
	}
}

func buildMessage(from string, to []string, subject, html, text string) ([]byte, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", html},
	}

	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err = w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	msg := &bytes.Buffer{}
	fmt.Fprintf(msg, "From: %s\r\n", from)
	fmt.Fprintf(msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

func NewSender(cfg Config, logger *slog.Logger) Sender {
	return &sender{
		cfg:    cfg,
		logger: logger,
	}
}
