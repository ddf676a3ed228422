package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryIdentityRepository implements Repository using in-memory storage.
// Intended for tests and single-process demo deployments.
type InMemoryIdentityRepository struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]Identity
}

// NewInMemoryIdentityRepository creates a new in-memory identity repository
func NewInMemoryIdentityRepository() *InMemoryIdentityRepository {
	return &InMemoryIdentityRepository{
		identities: make(map[uuid.UUID]Identity),
	}
}

// copyIdentity deep-copies the aggregate so callers never alias stored state.
func copyIdentity(ident Identity) Identity {
	out := ident
	out.Providers = append([]Provider(nil), ident.Providers...)
	out.Emails = append([]EmailEntry(nil), ident.Emails...)
	out.RefreshTokens = append([]RefreshTokenRecord(nil), ident.RefreshTokens...)
	return out
}

// FindByID returns the identity with the given id
func (r *InMemoryIdentityRepository) FindByID(ctx context.Context, id uuid.UUID) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.identities[id]
	if !ok || ident.Deleted {
		return Identity{}, ErrIdentityNotFound
	}
	return copyIdentity(ident), nil
}

// FindByProviderSub returns the identity owning the (type, sub) pair
func (r *InMemoryIdentityRepository) FindByProviderSub(ctx context.Context, providerType ProviderType, sub string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ident := range r.identities {
		if ident.Deleted {
			continue
		}
		for _, p := range ident.Providers {
			if p.Type == providerType && p.Sub == sub {
				return copyIdentity(ident), nil
			}
		}
	}
	return Identity{}, ErrIdentityNotFound
}

// FindByEmail returns the identity claiming the email address
func (r *InMemoryIdentityRepository) FindByEmail(ctx context.Context, email string, verifiedOnly bool) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = NormalizeEmail(email)
	for _, ident := range r.identities {
		if ident.Deleted {
			continue
		}
		for _, e := range ident.Emails {
			if e.Email != email {
				continue
			}
			if verifiedOnly && !e.Verified {
				continue
			}
			return copyIdentity(ident), nil
		}
		// Legacy identities carry a flat email until migrated.
		if ident.LegacyEmail == email && (!verifiedOnly || ident.LegacyEmailVerified) {
			return copyIdentity(ident), nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

// FindByEmailChallenge returns the identity holding the address unverified
// with a pending email verification challenge
func (r *InMemoryIdentityRepository) FindByEmailChallenge(ctx context.Context, email string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = NormalizeEmail(email)
	for _, ident := range r.identities {
		if ident.Deleted || ident.EmailOTPHash == "" {
			continue
		}
		for _, e := range ident.Emails {
			if e.Email == email && !e.Verified {
				return copyIdentity(ident), nil
			}
		}
	}
	return Identity{}, ErrIdentityNotFound
}

// FindByRefreshToken returns the identity holding the refresh token record
func (r *InMemoryIdentityRepository) FindByRefreshToken(ctx context.Context, token string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ident := range r.identities {
		if ident.Deleted {
			continue
		}
		for _, rt := range ident.RefreshTokens {
			if rt.Token == token {
				return copyIdentity(ident), nil
			}
		}
	}
	return Identity{}, ErrIdentityNotFound
}

// FindByPasswordResetToken returns the identity with the hashed reset token
func (r *InMemoryIdentityRepository) FindByPasswordResetToken(ctx context.Context, tokenHash string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ident := range r.identities {
		if ident.Deleted {
			continue
		}
		if ident.PasswordResetHash != "" && ident.PasswordResetHash == tokenHash {
			return copyIdentity(ident), nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

// Save persists the aggregate, assigning an id and creation time on first save
func (r *InMemoryIdentityRepository) Save(ctx context.Context, ident Identity) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now

	r.identities[ident.ID] = copyIdentity(ident)
	return copyIdentity(ident), nil
}

// Delete removes the identity and all owned records
func (r *InMemoryIdentityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[id]; !ok {
		return ErrIdentityNotFound
	}
	delete(r.identities, id)
	return nil
}
