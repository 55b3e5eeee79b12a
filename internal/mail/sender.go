// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package mail delivers transactional email: an SMTP sender, a bounded
// asynchronous dispatch queue and the password reset message.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/samber/oops"

	certs "github.com/hoanhao/authservice/internal/tls"
)

// Message is a rendered HTML email.
type Message struct {
	ToAddress string
	Subject   string
	HTMLBody  string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
	// RootCAs verifies the relay certificate. Nil means the system roots.
	RootCAs     *x509.CertPool
	DialTimeout time.Duration
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.FromAddress == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send delivers msg. The context bounds the whole SMTP exchange.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	errb := oops.In("mail").With("smtp_addr", addr)

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return errb.Wrapf(err, "dial smtp server")
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return errb.Wrapf(err, "smtp handshake")
	}
	defer func() { _ = client.Close() }()

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(certs.ClientConfig(s.cfg.Host, s.cfg.RootCAs)); err != nil {
				return errb.Wrapf(err, "starttls")
			}
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return errb.Wrapf(err, "smtp auth")
		}
	}

	if err := client.Mail(s.cfg.FromAddress); err != nil {
		return errb.Wrapf(err, "smtp mail from")
	}
	if err := client.Rcpt(msg.ToAddress); err != nil {
		return errb.Wrapf(err, "smtp rcpt to")
	}
	w, err := client.Data()
	if err != nil {
		return errb.Wrapf(err, "smtp data")
	}
	if _, err := w.Write(buildMessage(s.cfg.FromAddress, msg)); err != nil {
		return errb.Wrapf(err, "write message")
	}
	if err := w.Close(); err != nil {
		return errb.Wrapf(err, "finish message")
	}
	if err := client.Quit(); err != nil {
		return errb.Wrapf(err, "smtp quit")
	}
	return nil
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	if s.cfg.ImplicitTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    certs.ClientConfig(s.cfg.Host, s.cfg.RootCAs),
		}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// buildMessage renders the RFC 5322 message with an HTML body.
func buildMessage(from string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.ToAddress)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	return b.Bytes()
}
