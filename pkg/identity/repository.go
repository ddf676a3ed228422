package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Common errors returned by identity repositories
var (
	// ErrIdentityNotFound is returned when no identity matches a lookup
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrStoreUnavailable is returned on infrastructure faults. Callers
	// propagate it unchanged; mutating operations must not be blindly
	// retried on it since partial completion cannot be distinguished from
	// total failure without re-reading state.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Repository is the credential store contract. All lookups exclude
// soft-deleted identities. Save persists the whole aggregate, including its
// Provider, EmailEntry and RefreshTokenRecord children, as one unit.
type Repository interface {
	// FindByID returns the identity with the given id
	FindByID(ctx context.Context, id uuid.UUID) (Identity, error)

	// FindByProviderSub returns the identity owning the (type, sub) pair
	FindByProviderSub(ctx context.Context, providerType ProviderType, sub string) (Identity, error)

	// FindByEmail returns the identity claiming the email address. When
	// verifiedOnly is set only verified email entries match, so a transient
	// unverified registration can never shadow another account.
	FindByEmail(ctx context.Context, email string, verifiedOnly bool) (Identity, error)

	// FindByEmailChallenge returns the identity that holds the address
	// unverified and carries a pending email verification challenge. Two
	// identities may hold the same unverified address, so challenge flows
	// resolve through this lookup instead of FindByEmail.
	FindByEmailChallenge(ctx context.Context, email string) (Identity, error)

	// FindByRefreshToken returns the identity holding a refresh token
	// record with the given value, regardless of expiry.
	FindByRefreshToken(ctx context.Context, token string) (Identity, error)

	// FindByPasswordResetToken returns the identity with the given hashed
	// password reset token, regardless of expiry.
	FindByPasswordResetToken(ctx context.Context, tokenHash string) (Identity, error)

	// Save persists the aggregate and returns the stored state
	Save(ctx context.Context, ident Identity) (Identity, error)

	// Delete removes the identity and all owned records
	Delete(ctx context.Context, id uuid.UUID) error
}
