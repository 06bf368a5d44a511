// Package mailer renders and sends account emails.
package mailer

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Mailer sends the account lifecycle emails.
type Mailer interface {
	SendEmailVerification(ctx context.Context, to, firstName, token string) error
	SendPasswordReset(ctx context.Context, to, firstName, token string) error
	SendWelcome(ctx context.Context, to, firstName string) error
}

type mailer struct {
	transport   Transport
	from        Address
	frontendURL string
	logger      zerolog.Logger
}

func New(transport Transport, fromEmail, fromName, frontendURL string, logger zerolog.Logger) Mailer {
	return &mailer{
		transport:   transport,
		from:        Address{Name: fromName, Email: fromEmail},
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		logger:      logger.With().Str("service", "Mailer").Logger(),
	}
}

func (m *mailer) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", m.frontendURL, path, url.QueryEscape(token))
}

func (m *mailer) SendEmailVerification(ctx context.Context, to, firstName, token string) error {
	link := m.link("/verify-email", token)
	return m.send(ctx, Message{
		To:      to,
		Subject: "Verify your MorphFlux Studio email",
		Text: fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below. It expires in 24 hours.\n\n%s\n",
			firstName, link),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Confirm your email address by opening the link below. It expires in 24 hours.</p><p><a href="%s">Verify email</a></p>`,
			html.EscapeString(firstName), html.EscapeString(link)),
	})
}

func (m *mailer) SendPasswordReset(ctx context.Context, to, firstName, token string) error {
	link := m.link("/reset-password", token)
	return m.send(ctx, Message{
		To:      to,
		Subject: "Reset your MorphFlux Studio password",
		Text: fmt.Sprintf("Hi %s,\n\nReset your password with the link below. It expires in 1 hour. If you did not ask for this, ignore this email.\n\n%s\n",
			firstName, link),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Reset your password with the link below. It expires in 1 hour. If you did not ask for this, ignore this email.</p><p><a href="%s">Reset password</a></p>`,
			html.EscapeString(firstName), html.EscapeString(link)),
	})
}

func (m *mailer) SendWelcome(ctx context.Context, to, firstName string) error {
	return m.send(ctx, Message{
		To:      to,
		Subject: "Welcome to MorphFlux Studio",
		Text:    fmt.Sprintf("Hi %s,\n\nYour email is verified. Start creating at %s\n", firstName, m.frontendURL),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Your email is verified. <a href="%s">Start creating</a>.</p>`,
			html.EscapeString(firstName), html.EscapeString(m.frontendURL)),
	})
}

func (m *mailer) send(ctx context.Context, msg Message) error {
	if err := m.transport.Send(ctx, m.from, msg); err != nil {
		m.logger.Error().Err(err).Str("to", msg.To).Str("subject", msg.Subject).Msg("Failed to send email")
		return err
	}
	m.logger.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("Email sent")
	return nil
}
