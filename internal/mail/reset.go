// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/hoanhao/authservice/internal/auth"
)

// ResetSubject is the subject line of password reset emails.
const ResetSubject = "Password reset request"

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; background-color: #f4f4f4;">
<div style="max-width: 600px; margin: 20px auto; background-color: #ffffff; padding: 20px;">
<p>Hello {{.Username}},</p>
<p>We received a request to reset the password for your account. Use the code below or follow the link to finish:</p>
<p style="font-size: 24px; text-align: center;">{{.Token}}</p>
<p>This code is valid for {{.ValidFor}}.</p>
<p style="text-align: center;"><a href="{{.Link}}">Reset password</a></p>
<p>If you did not request a password reset, you can ignore this email.</p>
</div>
</body>
</html>
`))

type resetView struct {
	Subject  string
	Username string
	Token    string
	ValidFor string
	Link     string
}

// Submitter accepts messages for delivery.
type Submitter interface {
	Submit(ctx context.Context, msg Message) error
}

// ResetMailer renders password reset notices and submits them for delivery.
// It implements auth.ResetNotifier.
type ResetMailer struct {
	out      Submitter
	resetURL string
	clock    func() time.Time
}

// NewResetMailer creates a reset mailer. Links point at resetURL with the
// token in the "token" query parameter.
func NewResetMailer(out Submitter, resetURL string) (*ResetMailer, error) {
	if out == nil {
		return nil, oops.Code("MAIL_INVALID_DEPS").Errorf("submitter is required")
	}
	if _, err := url.Parse(resetURL); err != nil || resetURL == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("reset_url", resetURL).Errorf("reset url is invalid")
	}
	return &ResetMailer{out: out, resetURL: resetURL, clock: time.Now}, nil
}

// NotifyPasswordReset renders and submits the reset email.
func (m *ResetMailer) NotifyPasswordReset(ctx context.Context, notice auth.PasswordResetNotice) error {
	msg, err := m.render(notice)
	if err != nil {
		return err
	}
	return m.out.Submit(ctx, msg)
}

func (m *ResetMailer) render(notice auth.PasswordResetNotice) (Message, error) {
	link, err := resetLink(m.resetURL, notice.Token)
	if err != nil {
		return Message{}, err
	}

	validFor := notice.ExpiresAt.Sub(m.clock()).Round(time.Minute)
	if validFor < time.Minute {
		validFor = time.Minute
	}

	var body bytes.Buffer
	err = resetTemplate.Execute(&body, resetView{
		Subject:  ResetSubject,
		Username: notice.Username,
		Token:    notice.Token,
		ValidFor: formatMinutes(validFor),
		Link:     link,
	})
	if err != nil {
		return Message{}, oops.In("mail").Wrapf(err, "render reset email")
	}
	return Message{
		ToAddress: notice.ToAddress,
		Subject:   ResetSubject,
		HTMLBody:  body.String(),
	}, nil
}

func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", oops.In("mail").With("reset_url", base).Wrapf(err, "parse reset url")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatMinutes(d time.Duration) string {
	n := int(d / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
