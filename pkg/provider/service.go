package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authlink/authlink/pkg/identity"
)

// ExternalClaims carries the verified claims extracted from an external
// identity token.
type ExternalClaims struct {
	Sub           string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// ProviderService merges identity claims from multiple authentication
// methods onto identities without creating duplicate accounts, without
// allowing takeover via unverified email collisions, and without ever
// leaving an identity with zero sign-in methods.
type ProviderService struct {
	repo              identity.Repository
	placeholderDomain string
}

// ProviderServiceOption is a functional option for configuring ProviderService
type ProviderServiceOption func(*ProviderService)

// WithPlaceholderDomain overrides the domain used for synthesized primary
// emails when external claims carry no address.
func WithPlaceholderDomain(domain string) ProviderServiceOption {
	return func(s *ProviderService) {
		s.placeholderDomain = domain
	}
}

// NewProviderService creates a new provider linking service
func NewProviderService(repo identity.Repository, opts ...ProviderServiceOption) *ProviderService {
	s := &ProviderService{
		repo:              repo,
		placeholderDomain: "noemail.local",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindBySub returns the identity owning the external (type, sub) pair.
// Returns identity.ErrIdentityNotFound when no identity owns it.
func (s *ProviderService) FindBySub(ctx context.Context, providerType identity.ProviderType, sub string) (identity.Identity, error) {
	return s.repo.FindByProviderSub(ctx, providerType, sub)
}

// FindByVerifiedEmail returns the identity holding the email address as a
// verified entry. Unverified entries never match, so a transient
// registration with someone else's address cannot capture their future
// OAuth sign-ins.
func (s *ProviderService) FindByVerifiedEmail(ctx context.Context, email string) (identity.Identity, error) {
	return s.repo.FindByEmail(ctx, email, true)
}

// CheckSubCollision reports whether an identity other than excludeID already
// owns the external (type, sub) pair.
func (s *ProviderService) CheckSubCollision(ctx context.Context, providerType identity.ProviderType, sub string, excludeID uuid.UUID) (bool, error) {
	owner, err := s.repo.FindByProviderSub(ctx, providerType, sub)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return false, nil
		}
		return false, err
	}
	return owner.ID != excludeID, nil
}

// CheckEmailCollision reports whether an identity other than excludeID
// already holds the email address as a verified entry.
func (s *ProviderService) CheckEmailCollision(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	owner, err := s.repo.FindByEmail(ctx, email, true)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return false, nil
		}
		return false, err
	}
	return owner.ID != excludeID, nil
}

// CreateFromExternalClaims builds and persists a new identity with a single
// google provider from the claims. When the claims carry no email a
// non-routable placeholder keyed by sub becomes the primary email.
func (s *ProviderService) CreateFromExternalClaims(ctx context.Context, claims ExternalClaims) (identity.Identity, error) {
	now := time.Now().UTC()
	p := identity.Provider{
		Type:     identity.ProviderTypeGoogle,
		Sub:      claims.Sub,
		Email:    identity.NormalizeEmail(claims.Email),
		LinkedAt: now,
	}
	if claims.EmailVerified {
		p.EmailVerifiedAt = &now
	}

	ident := identity.Identity{
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
		Providers: []identity.Provider{p},
	}
	if claims.Email != "" {
		ident.AddEmail(claims.Email, claims.EmailVerified)
		ident.PrimaryEmail = identity.NormalizeEmail(claims.Email)
	} else {
		// Known edge case: collision safety of the placeholder rests on
		// sub uniqueness.
		ident.PrimaryEmail = fmt.Sprintf("google-%s@%s", claims.Sub, s.placeholderDomain)
	}

	saved, err := s.repo.Save(ctx, ident)
	if err != nil {
		slog.Error("Failed to save identity from external claims", "sub", claims.Sub, "err", err)
		return identity.Identity{}, err
	}
	return saved, nil
}

// LinkToIdentity appends a google provider built from the claims to the
// identity and persists it. The caller is responsible for running
// CheckSubCollision and CheckEmailCollision first; this is a pure mutation
// step kept separable from policy.
func (s *ProviderService) LinkToIdentity(ctx context.Context, ident identity.Identity, claims ExternalClaims) (identity.Identity, error) {
	if ident.HasProvider(identity.ProviderTypeGoogle, "") {
		return identity.Identity{}, ErrProviderAlreadyLinked
	}

	now := time.Now().UTC()
	p := identity.Provider{
		Type:     identity.ProviderTypeGoogle,
		Sub:      claims.Sub,
		Email:    identity.NormalizeEmail(claims.Email),
		LinkedAt: now,
	}
	if claims.EmailVerified {
		p.EmailVerifiedAt = &now
	}
	ident.AddProvider(p)

	if claims.Email != "" {
		if existing := ident.FindEmail(claims.Email); existing != nil {
			if claims.EmailVerified && !existing.Verified {
				ident.VerifyEmail(claims.Email)
			}
		} else {
			ident.AddEmail(claims.Email, claims.EmailVerified)
		}
	}

	saved, err := s.repo.Save(ctx, ident)
	if err != nil {
		slog.Error("Failed to save linked identity", "identity_id", ident.ID, "sub", claims.Sub, "err", err)
		return identity.Identity{}, err
	}
	return saved, nil
}

// AutoLinkByVerifiedEmail links the claims onto the identity that already
// verified the email address, if any. Returns found=false when no identity
// holds the address verified; the caller then creates a new identity. The
// verified gate is what lets a password account and a later Google sign-in
// with the same address merge safely.
func (s *ProviderService) AutoLinkByVerifiedEmail(ctx context.Context, email string, claims ExternalClaims) (identity.Identity, bool, error) {
	ident, err := s.repo.FindByEmail(ctx, email, true)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return identity.Identity{}, false, nil
		}
		return identity.Identity{}, false, err
	}

	linked, err := s.LinkToIdentity(ctx, ident, claims)
	if err != nil {
		return identity.Identity{}, false, err
	}
	return linked, true, nil
}

// UnlinkProvider removes a provider from the identity. It re-reads the
// aggregate so the last-factor check runs against current state immediately
// before the write. When sub is empty any provider of the type matches.
func (s *ProviderService) UnlinkProvider(ctx context.Context, identityID uuid.UUID, providerType identity.ProviderType, sub string) (identity.Identity, error) {
	ident, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return identity.Identity{}, err
	}

	if !ident.HasProvider(providerType, sub) {
		return identity.Identity{}, ErrProviderNotFound
	}
	if !ident.CanRemoveProvider(providerType, sub) {
		return identity.Identity{}, ErrLastFactor
	}

	ident.RemoveProvider(providerType, sub)
	saved, err := s.repo.Save(ctx, ident)
	if err != nil {
		slog.Error("Failed to save identity after unlink", "identity_id", identityID, "type", providerType, "err", err)
		return identity.Identity{}, err
	}
	slog.Info("Provider unlinked", "identity_id", identityID, "type", providerType)
	return saved, nil
}

// MigrateLegacyIdentity backfills primary email, email entries and provider
// records for identities created under the old flat schema. Safe to call
// repeatedly; each backfill checks for the record it would insert.
func (s *ProviderService) MigrateLegacyIdentity(ctx context.Context, ident identity.Identity) (identity.Identity, error) {
	changed := false

	if ident.LegacyEmail != "" && ident.PrimaryEmail == "" {
		ident.PrimaryEmail = identity.NormalizeEmail(ident.LegacyEmail)
		changed = true
	}
	if ident.LegacyEmail != "" && ident.FindEmail(ident.LegacyEmail) == nil {
		ident.AddEmail(ident.LegacyEmail, ident.LegacyEmailVerified)
		changed = true
	}

	if ident.LegacyGoogleID != "" && !ident.HasProvider(identity.ProviderTypeGoogle, "") {
		p := identity.Provider{
			Type:     identity.ProviderTypeGoogle,
			Sub:      ident.LegacyGoogleID,
			Email:    identity.NormalizeEmail(ident.LegacyEmail),
			LinkedAt: ident.CreatedAt,
		}
		if ident.LegacyEmailVerified {
			verifiedAt := ident.CreatedAt
			p.EmailVerifiedAt = &verifiedAt
		}
		ident.AddProvider(p)
		changed = true
	}

	if ident.PasswordHash != "" && !ident.HasProvider(identity.ProviderTypePassword, "") {
		ident.AddProvider(identity.Provider{
			Type:     identity.ProviderTypePassword,
			Email:    ident.PrimaryEmail,
			LinkedAt: ident.CreatedAt,
		})
		changed = true
	}

	if !changed {
		return ident, nil
	}

	saved, err := s.repo.Save(ctx, ident)
	if err != nil {
		slog.Error("Failed to save migrated identity", "identity_id", ident.ID, "err", err)
		return identity.Identity{}, err
	}
	slog.Info("Migrated legacy identity", "identity_id", saved.ID)
	return saved, nil
}
