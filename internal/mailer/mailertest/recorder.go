// Package mailertest records outgoing account emails for tests.
package mailertest

import (
	"context"
	"sync"

	"morphflux/internal/mailer"
)

type Sent struct {
	Kind      string
	To        string
	FirstName string
	Token     string
}

// Recorder is a mailer.Mailer that keeps every email in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent

	// Err, when set, fails every send.
	Err error
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, s)
	return nil
}

func (r *Recorder) SendEmailVerification(_ context.Context, to, firstName, token string) error {
	return r.record(Sent{Kind: "verification", To: to, FirstName: firstName, Token: token})
}

func (r *Recorder) SendPasswordReset(_ context.Context, to, firstName, token string) error {
	return r.record(Sent{Kind: "reset", To: to, FirstName: firstName, Token: token})
}

func (r *Recorder) SendWelcome(_ context.Context, to, firstName string) error {
	return r.record(Sent{Kind: "welcome", To: to, FirstName: firstName})
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent email of the given kind sent to the address.
func (r *Recorder) Last(kind, to string) (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind && r.sent[i].To == to {
			return r.sent[i], true
		}
	}
	return Sent{}, false
}

var _ mailer.Mailer = (*Recorder)(nil)
