// Package auth verifies the bearer tokens of lab users and carries the
// resulting subject through contexts.
//
// The subject is opaque to the lifecycle code: it is copied onto session
// records as the owner and used as the VPN profile name, nothing more.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or expired token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier turns a bearer token into a subject.
type Verifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}

type subjectKey struct{}

// WithSubject returns a context carrying subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom returns the subject stored by WithSubject, or "".
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Anonymous treats the token as a plain subject name and accepts none at all.
// It is used when no signing secret is configured.
type Anonymous struct{}

func (Anonymous) Verify(_ context.Context, token string) (string, error) {
	return strings.TrimSpace(token), nil
}

// jwtEnv holds raw env values before post-parse validation.
type jwtEnv struct {
	Secret   string        `env:"LABS_AUTH_JWT_SECRET"`
	Issuer   string        `env:"LABS_AUTH_ISSUER"   envDefault:"provinggrounds"`
	Audience string        `env:"LABS_AUTH_AUDIENCE" envDefault:"labctl"`
	TTL      time.Duration `env:"LABS_AUTH_TTL"      envDefault:"24h"`
}

// JWTConfig configures HS256 token verification and issuing.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      func() time.Time
}

// LoadJWTConfigFromEnv reads the LABS_AUTH_* variables. ok is false when no
// secret is set, meaning authentication is disabled.
func LoadJWTConfigFromEnv() (cfg JWTConfig, ok bool, err error) {
	var raw jwtEnv
	if err := env.Parse(&raw); err != nil {
		return JWTConfig{}, false, fmt.Errorf("parse auth env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return JWTConfig{}, false, nil
	}
	if len(secret) < 16 {
		return JWTConfig{}, false, fmt.Errorf("LABS_AUTH_JWT_SECRET must be at least 16 bytes")
	}
	if raw.TTL <= 0 {
		return JWTConfig{}, false, fmt.Errorf("LABS_AUTH_TTL must be positive")
	}
	return JWTConfig{
		Secret:   []byte(secret),
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		TTL:      raw.TTL,
		Now:      time.Now,
	}, true, nil
}

// NewVerifierFromEnv returns a JWTVerifier when a secret is configured and
// Anonymous otherwise.
func NewVerifierFromEnv() (Verifier, error) {
	cfg, ok, err := LoadJWTConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !ok {
		return Anonymous{}, nil
	}
	return NewJWTVerifier(cfg), nil
}

// labClaims carries the wallet address wallet logins put in the token.
type labClaims struct {
	jwt.RegisteredClaims
	Address string `json:"address,omitempty"`
}

type JWTVerifier struct {
	cfg JWTConfig
}

func NewJWTVerifier(cfg JWTConfig) *JWTVerifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &JWTVerifier{cfg: cfg}
}

// Verify checks signature, expiry, issuer and audience and returns the
// address claim, falling back to sub.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token is required", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.cfg.Now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	var claims labClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	subject := strings.TrimSpace(claims.Address)
	if subject == "" {
		subject = strings.TrimSpace(claims.Subject)
	}
	if subject == "" {
		return "", fmt.Errorf("%w: token has no address or sub claim", ErrUnauthenticated)
	}
	return subject, nil
}

// Issue signs a token for address, valid for the configured TTL.
func (v *JWTVerifier) Issue(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("address is required")
	}
	now := v.cfg.Now()
	claims := labClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.cfg.TTL)),
		},
		Address: address,
	}
	if v.cfg.Issuer != "" {
		claims.Issuer = v.cfg.Issuer
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
