package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer          = "morphflux-studio"
	AccessAudience  = "morphflux-users"
	RefreshAudience = "morphflux-refresh"
)

var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// Claims is the signed payload of both token kinds. Refresh tokens only
// carry the user id.
type Claims struct {
	UserID           string `json:"id"`
	Email            string `json:"email,omitempty"`
	SubscriptionTier string `json:"subscription_tier,omitempty"`
	EmailVerified    bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// AccessPayload is the user snapshot embedded in an access token.
type AccessPayload struct {
	UserID           string
	Email            string
	SubscriptionTier string
	EmailVerified    bool
}

type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(secret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Service) IssueAccessToken(p AccessPayload) (string, error) {
	claims := Claims{
		UserID:           p.UserID,
		Email:            p.Email,
		SubscriptionTier: p.SubscriptionTier,
		EmailVerified:    p.EmailVerified,
		RegisteredClaims: s.registered(p.UserID, AccessAudience, s.accessTTL),
	}
	return s.sign(claims)
}

// IssueRefreshToken returns the token and the expiry embedded in it.
func (s *Service) IssueRefreshToken(userID string) (string, time.Time, error) {
	rc := s.registered(userID, RefreshAudience, s.refreshTTL)
	signed, err := s.sign(Claims{UserID: userID, RegisteredClaims: rc})
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, rc.ExpiresAt.Time, nil
}

// Verify checks signature, issuer, audience and expiry. A well-signed token
// past its expiry yields ErrExpired; every other failure yields ErrInvalid.
func (s *Service) Verify(tokenString, audience string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalid)
	}
	return claims, nil
}

func (s *Service) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Service) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
