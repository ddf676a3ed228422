package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies one kind of authentication method.
type ProviderType string

const (
	ProviderTypePassword ProviderType = "password"
	ProviderTypeGoogle   ProviderType = "google"
	ProviderTypeEmailOTP ProviderType = "email-otp"
)

// Provider is one authentication method bound to an Identity.
// For google providers Sub carries the external subject id.
type Provider struct {
	Type            ProviderType
	Sub             string
	Email           string
	EmailVerifiedAt *time.Time
	LinkedAt        time.Time
}

// EmailEntry is one email address known to an Identity with its own
// verification state. Addresses are stored lowercased.
type EmailEntry struct {
	Email      string
	Verified   bool
	VerifiedAt *time.Time
	IsPrimary  bool
}

// RefreshTokenRecord is one outstanding refresh credential.
type RefreshTokenRecord struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Identity is the canonical user record a human authenticates as.
// It exclusively owns its Providers, EmailEntries and RefreshTokenRecords.
type Identity struct {
	ID            uuid.UUID
	Name          string
	PrimaryEmail  string
	PasswordHash  string
	AvatarURL     string
	Providers     []Provider
	Emails        []EmailEntry
	RefreshTokens []RefreshTokenRecord

	// Email verification challenge (hashed OTP, single use).
	EmailOTPHash      string
	EmailOTPExpiresAt *time.Time

	// Password reset challenge (hashed token, single use).
	PasswordResetHash      string
	PasswordResetExpiresAt *time.Time

	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	// Legacy flat-schema fields kept for the migration shim. An identity
	// created under the old schema has a single email, an optional password
	// hash and an optional google id, but no Provider or EmailEntry records.
	LegacyEmail         string
	LegacyGoogleID      string
	LegacyEmailVerified bool
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasProvider reports whether the identity has a provider of the given type.
// When sub is non-empty the provider must also match the subject id.
func (i *Identity) HasProvider(providerType ProviderType, sub string) bool {
	for _, p := range i.Providers {
		if p.Type == providerType && (sub == "" || p.Sub == sub) {
			return true
		}
	}
	return false
}

// AddProvider appends a provider record unless an equivalent one exists.
// Returns false when the provider was already present.
func (i *Identity) AddProvider(p Provider) bool {
	for _, existing := range i.Providers {
		if existing.Type != p.Type {
			continue
		}
		if p.Sub == "" || existing.Sub == p.Sub {
			return false
		}
	}
	if p.LinkedAt.IsZero() {
		p.LinkedAt = time.Now().UTC()
	}
	i.Providers = append(i.Providers, p)
	return true
}

// RemoveProvider removes a matching provider record. When sub is empty any
// provider of the type matches. Returns whether a record was removed.
func (i *Identity) RemoveProvider(providerType ProviderType, sub string) bool {
	kept := i.Providers[:0]
	removed := false
	for _, p := range i.Providers {
		if p.Type == providerType && (sub == "" || p.Sub == sub) {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	i.Providers = kept
	return removed
}

// CanRemoveProvider reports whether removing the given provider would leave
// at least one sign-in method behind.
func (i *Identity) CanRemoveProvider(providerType ProviderType, sub string) bool {
	if len(i.Providers) <= 1 {
		return false
	}
	return i.HasProvider(providerType, sub)
}

// FindEmail returns the email entry for the given address, or nil.
func (i *Identity) FindEmail(email string) *EmailEntry {
	email = NormalizeEmail(email)
	for idx := range i.Emails {
		if i.Emails[idx].Email == email {
			return &i.Emails[idx]
		}
	}
	return nil
}

// AddEmail appends an email entry unless the address is already known.
// The first email added becomes primary. Returns false on duplicates.
func (i *Identity) AddEmail(email string, verified bool) bool {
	email = NormalizeEmail(email)
	if i.FindEmail(email) != nil {
		return false
	}
	entry := EmailEntry{
		Email:     email,
		Verified:  verified,
		IsPrimary: len(i.Emails) == 0,
	}
	if verified {
		now := time.Now().UTC()
		entry.VerifiedAt = &now
	}
	i.Emails = append(i.Emails, entry)
	return true
}

// VerifyEmail marks the matching email entry verified. Returns false when the
// address is unknown or already verified.
func (i *Identity) VerifyEmail(email string) bool {
	entry := i.FindEmail(email)
	if entry == nil || entry.Verified {
		return false
	}
	now := time.Now().UTC()
	entry.Verified = true
	entry.VerifiedAt = &now
	return true
}

// SetPrimaryEmail moves the primary flag to the entry for the given address.
func (i *Identity) SetPrimaryEmail(email string) bool {
	email = NormalizeEmail(email)
	entry := i.FindEmail(email)
	if entry == nil {
		return false
	}
	for idx := range i.Emails {
		i.Emails[idx].IsPrimary = false
	}
	entry.IsPrimary = true
	i.PrimaryEmail = email
	return true
}

// PrimaryEmailVerified reports whether the identity's primary email entry is
// verified. Legacy identities fall back to the flat verified flag.
func (i *Identity) PrimaryEmailVerified() bool {
	for _, e := range i.Emails {
		if e.IsPrimary {
			return e.Verified
		}
	}
	if entry := i.FindEmail(i.PrimaryEmail); entry != nil {
		return entry.Verified
	}
	return i.LegacyEmailVerified
}

// AddRefreshToken appends a refresh token record.
func (i *Identity) AddRefreshToken(token string, expiresAt time.Time) {
	i.RefreshTokens = append(i.RefreshTokens, RefreshTokenRecord{
		Token:     token,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	})
}

// FindRefreshToken returns the record for the given token value, or nil.
func (i *Identity) FindRefreshToken(token string) *RefreshTokenRecord {
	for idx := range i.RefreshTokens {
		if i.RefreshTokens[idx].Token == token {
			return &i.RefreshTokens[idx]
		}
	}
	return nil
}

// RemoveRefreshToken deletes one matching record. Returns whether one was found.
func (i *Identity) RemoveRefreshToken(token string) bool {
	kept := i.RefreshTokens[:0]
	removed := false
	for _, rt := range i.RefreshTokens {
		if rt.Token == token {
			removed = true
			continue
		}
		kept = append(kept, rt)
	}
	i.RefreshTokens = kept
	return removed
}

// SweepExpiredTokens removes refresh token records whose expiry has passed.
// Returns the number of records removed.
func (i *Identity) SweepExpiredTokens(now time.Time) int {
	kept := i.RefreshTokens[:0]
	swept := 0
	for _, rt := range i.RefreshTokens {
		if !rt.ExpiresAt.After(now) {
			swept++
			continue
		}
		kept = append(kept, rt)
	}
	i.RefreshTokens = kept
	return swept
}
