package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"morphflux/internal/model"
	"morphflux/internal/repository/repotest"
)

const testSecret = "test-secret-with-enough-entropy"

type publishedMessage struct {
	Topic      string
	Payload    []byte
	Attributes map[string]string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte, attributes map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, publishedMessage{Topic: topic, Payload: payload, Attributes: attributes})
	return "msg-1", nil
}

// fixedClock is a settable time source shared by services under test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// seedUser stores an active, verified user with the given password.
func seedUser(t *testing.T, store *repotest.Store, email, password string, tier model.Tier) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{
		Email:            email,
		PasswordHash:     string(hash),
		FirstName:        "Test",
		LastName:         "User",
		EmailVerified:    true,
		SubscriptionTier: tier,
		MonthlyLimit:     tier.MonthlyLimit(),
		IsActive:         true,
	}
	require.NoError(t, store.Users().CreateUser(context.Background(), u))
	return u
}

func reloadUser(t *testing.T, store *repotest.Store, id string) *model.User {
	t.Helper()
	u, err := store.Users().GetUserByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 10, G: 120, B: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

var nopLogger = zerolog.Nop()
