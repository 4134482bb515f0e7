package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds the signing secret and token policy.
type Config struct {
	Secret string        `env:"JWT_SECRET,required"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"hearth"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"1h"`
}

// Credential is the verified identity behind one request.
type Credential struct {
	SubscriberID string
	ExpiresAt    time.Time
}

// Expired reports whether the credential is no longer valid at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Service issues and verifies HS256 subscriber tokens.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSigningKey
	}
	s := &Service{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = time.Hour
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for subscriberID valid for the configured TTL.
func (s *Service) Issue(subscriberID string) (string, Credential, error) {
	if subscriberID == "" {
		return "", Credential{}, ErrMissingSubject
	}
	now := s.now()
	cred := Credential{SubscriberID: subscriberID, ExpiresAt: now.Add(s.ttl).Truncate(time.Second)}

	tok := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subscriberID,
		Issuer:    s.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(cred.ExpiresAt),
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", Credential{}, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, cred, nil
}

// Verify checks signature, issuer and expiry and returns the credential.
func (s *Service) Verify(token string) (Credential, error) {
	var claims gojwt.RegisteredClaims
	_, err := gojwt.ParseWithClaims(token, &claims,
		func(*gojwt.Token) (any, error) { return s.key, nil },
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(s.issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, gojwt.ErrTokenExpired):
		return Credential{}, errors.Join(ErrExpiredToken, err)
	case err != nil:
		return Credential{}, errors.Join(ErrInvalidToken, err)
	case claims.Subject == "":
		return Credential{}, ErrMissingSubject
	}

	return Credential{SubscriberID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}
