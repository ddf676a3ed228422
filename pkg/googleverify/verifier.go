package googleverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrInvalidToken is returned for any verification failure: bad signature,
// expired token, audience mismatch or issuer mismatch. Verification never
// partially succeeds.
var ErrInvalidToken = errors.New("invalid identity token")

// googleIssuers is the exact allow-list of canonical Google issuer strings.
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Claims holds the verified claims extracted from an external identity token.
type Claims struct {
	Sub           string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// Verifier validates a raw external identity token and extracts its claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

// GoogleVerifier validates Google ID tokens against Google's published keys.
type GoogleVerifier struct {
	audience string
}

// NewGoogleVerifier creates a verifier bound to the given OAuth client id.
// Construct one at process start and pass it by reference; there is no
// package-level shared client.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{audience: clientID}
}

// Verify cryptographically validates the token's signature, expiry and
// audience, checks the issuer against the exact allow-list, and extracts
// the verified claims.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	payload, err := idtoken.Validate(ctx, rawToken, v.audience)
	if err != nil {
		slog.Warn("Google ID token validation failed", "err", err)
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !issuerAllowed(payload.Issuer) {
		slog.Warn("Google ID token issuer rejected", "issuer", payload.Issuer)
		return Claims{}, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	return claimsFromPayload(payload.Subject, payload.Claims), nil
}

func issuerAllowed(issuer string) bool {
	for _, allowed := range googleIssuers {
		if issuer == allowed {
			return true
		}
	}
	return false
}

// claimsFromPayload maps the raw token claims to Claims. The display name
// falls back to composed given and family names.
func claimsFromPayload(subject string, raw map[string]interface{}) Claims {
	claims := Claims{Sub: subject}

	if email, ok := raw["email"].(string); ok {
		claims.Email = email
	}
	if verified, ok := raw["email_verified"].(bool); ok {
		claims.EmailVerified = verified
	}
	if picture, ok := raw["picture"].(string); ok {
		claims.AvatarURL = picture
	}

	if name, ok := raw["name"].(string); ok && name != "" {
		claims.Name = name
		return claims
	}
	given, _ := raw["given_name"].(string)
	family, _ := raw["family_name"].(string)
	claims.Name = strings.TrimSpace(given + " " + family)
	return claims
}
