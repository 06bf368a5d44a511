package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	from Address
	msgs []Message
	err  error
}

func (c *captureTransport) Send(_ context.Context, from Address, msg Message) error {
	if c.err != nil {
		return c.err
	}
	c.from = from
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestVerificationLink(t *testing.T) {
	tr := &captureTransport{}
	m := New(tr, "noreply@morphflux.test", "MorphFlux Studio", "https://app.morphflux.test/", zerolog.Nop())

	require.NoError(t, m.SendEmailVerification(context.Background(), "ada@example.com", "Ada", "tok-123"))
	require.Len(t, tr.msgs, 1)
	msg := tr.msgs[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.Text, "https://app.morphflux.test/verify-email?token=tok-123")
	assert.Contains(t, msg.HTML, `href="https://app.morphflux.test/verify-email?token=tok-123"`)
	assert.Equal(t, "noreply@morphflux.test", tr.from.Email)
	assert.Equal(t, "MorphFlux Studio", tr.from.Name)
}

func TestResetLinkAndEscaping(t *testing.T) {
	tr := &captureTransport{}
	m := New(tr, "noreply@morphflux.test", "", "http://localhost:3000", zerolog.Nop())

	require.NoError(t, m.SendPasswordReset(context.Background(), "x@example.com", "<b>Eve</b>", "r-1"))
	msg := tr.msgs[0]
	assert.Contains(t, msg.Text, "http://localhost:3000/reset-password?token=r-1")
	assert.NotContains(t, msg.HTML, "<b>Eve</b>")
	assert.Contains(t, msg.HTML, "&lt;b&gt;Eve&lt;/b&gt;")
}

func TestTransportErrorSurfaces(t *testing.T) {
	boom := errors.New("relay down")
	m := New(&captureTransport{err: boom}, "a@b.c", "", "http://x", zerolog.Nop())
	assert.ErrorIs(t, m.SendWelcome(context.Background(), "u@example.com", "U"), boom)
}

func TestSMTPTransportBuildsMultipart(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	tr := NewSMTPTransport("smtp.example.com", 587, "user", "pass")
	tr.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	err := tr.Send(context.Background(), Address{Name: "MorphFlux", Email: "noreply@morphflux.test"}, Message{
		To: "ada@example.com", Subject: "Hello", Text: "plain body", HTML: "<p>html body</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "noreply@morphflux.test", gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	body := string(gotBody)
	assert.True(t, strings.HasPrefix(body, `From: "MorphFlux" <noreply@morphflux.test>`))
	assert.Contains(t, body, "Subject: Hello\r\n")
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "plain body")
	assert.Contains(t, body, "<p>html body</p>")
}

func TestSMTPTransportHonoursCancelledContext(t *testing.T) {
	tr := NewSMTPTransport("smtp.example.com", 25, "", "")
	tr.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, Address{Email: "a@b.c"}, Message{To: "d@e.f"}), context.Canceled)
}
