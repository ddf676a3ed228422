package tokenservice

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/authlink/authlink/pkg/identity"
)

// TokenPair is the credential pair returned by Issue and Rotate.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ExpiresIn    int64
}

// TokenService issues, rotates and revokes access/refresh token pairs.
// Access tokens are short-lived HS256 JWTs carrying the identity id and are
// never persisted. Refresh tokens are long-lived opaque random values stored
// as RefreshTokenRecord entries on the identity.
type TokenService struct {
	repo     identity.Repository
	secret   string
	issuer   string
	audience string

	accessExpiry   time.Duration
	refreshExpiry  time.Duration
	rememberExpiry time.Duration
}

// TokenServiceOption is a functional option for configuring TokenService
type TokenServiceOption func(*TokenService)

// WithAccessExpiry sets the access token lifetime
func WithAccessExpiry(d time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.accessExpiry = d
	}
}

// WithRefreshExpiry sets the refresh token lifetime for ordinary sessions
func WithRefreshExpiry(d time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.refreshExpiry = d
	}
}

// WithRememberExpiry sets the refresh token lifetime for remember-me sessions
func WithRememberExpiry(d time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.rememberExpiry = d
	}
}

// NewTokenService creates a new token service
func NewTokenService(repo identity.Repository, secret, issuer, audience string, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		repo:           repo,
		secret:         secret,
		issuer:         issuer,
		audience:       audience,
		accessExpiry:   15 * time.Minute,
		refreshExpiry:  7 * 24 * time.Hour,
		rememberExpiry: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// generateAccessToken creates a signed JWT carrying the identity id.
func (s *TokenService) generateAccessToken(identityID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
		Issuer:    s.issuer,
		Subject:   identityID.String(),
		ID:        uuid.New().String(),
		Audience:  jwt.ClaimStrings{s.audience},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(s.secret))
	if err != nil {
		slog.Error("Failed to sign access token", "err", err)
		return "", err
	}
	return ss, nil
}

// generateRefreshToken returns an opaque random value with 256 bits of entropy.
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// issueOn appends a fresh refresh token record to the aggregate and builds
// the pair. The caller persists the aggregate.
func (s *TokenService) issueOn(ident *identity.Identity, remember bool) (TokenPair, error) {
	access, err := s.generateAccessToken(ident.ID)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := generateRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}

	lifetime := s.refreshExpiry
	if remember {
		lifetime = s.rememberExpiry
	}
	expiresAt := time.Now().UTC().Add(lifetime)
	ident.AddRefreshToken(refresh, expiresAt)

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, nil
}

// Issue generates a fresh access/refresh pair for the identity and persists
// the refresh token record.
func (s *TokenService) Issue(ctx context.Context, identityID uuid.UUID, remember bool) (TokenPair, error) {
	ident, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := s.issueOn(&ident, remember)
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := s.repo.Save(ctx, ident); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Rotate consumes a live refresh token and issues a replacement pair.
//
// A replayed token that exists but is no longer live is treated as a
// compromise signal: every refresh token for the owning identity is revoked
// before ErrReuseDetected is returned, forcing global re-authentication.
// Consumed tokens are not removed immediately; their expiry is set to the
// rotation instant so replay stays detectable until the lazy sweep purges
// them. The tombstone, the new record and the rest of the aggregate are
// persisted in a single Save, so no window exists in which both the old and
// new token are live.
func (s *TokenService) Rotate(ctx context.Context, oldRefreshToken string) (TokenPair, error) {
	ident, err := s.repo.FindByRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return TokenPair{}, ErrTokenNotFound
		}
		return TokenPair{}, err
	}

	record := ident.FindRefreshToken(oldRefreshToken)
	if record == nil {
		return TokenPair{}, ErrTokenNotFound
	}

	now := time.Now().UTC()
	if !record.ExpiresAt.After(now) {
		slog.Warn("Refresh token reuse detected, revoking all sessions", "identity_id", ident.ID)
		ident.RefreshTokens = nil
		if _, err := s.repo.Save(ctx, ident); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrReuseDetected
	}

	record.ExpiresAt = now

	pair, err := s.issueOn(&ident, false)
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := s.repo.Save(ctx, ident); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Revoke deletes one matching refresh token record. Returns whether one was
// found.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	ident, err := s.repo.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return false, nil
		}
		return false, err
	}

	if !ident.RemoveRefreshToken(refreshToken) {
		return false, nil
	}
	if _, err := s.repo.Save(ctx, ident); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAll clears the identity's entire refresh token set.
func (s *TokenService) RevokeAll(ctx context.Context, identityID uuid.UUID) (bool, error) {
	ident, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return false, nil
		}
		return false, err
	}

	ident.RefreshTokens = nil
	if _, err := s.repo.Save(ctx, ident); err != nil {
		return false, err
	}
	return true, nil
}

// SweepExpired removes refresh token records whose expiry has passed. Called
// opportunistically before issuing new credentials; there is no scheduler.
func (s *TokenService) SweepExpired(ctx context.Context, ident identity.Identity) (identity.Identity, error) {
	if ident.SweepExpiredTokens(time.Now().UTC()) == 0 {
		return ident, nil
	}
	return s.repo.Save(ctx, ident)
}

// VerifyAccessToken parses and validates an access token and returns the
// identity id it carries.
func (s *TokenService) VerifyAccessToken(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	identityID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	return identityID, nil
}
