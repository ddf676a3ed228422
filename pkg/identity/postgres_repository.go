package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIdentityRepository implements Repository using PostgreSQL. The
// aggregate's child collections live in normalized tables keyed by
// identity_id; Save rewrites them inside one transaction so rotation and
// linking are atomic from the caller's point of view. Partial unique indexes
// on (type, sub) and on verified emails back the uniqueness invariants as a
// last line of defense.
type PostgresIdentityRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresIdentityRepository creates a new PostgreSQL identity repository
func NewPostgresIdentityRepository(pool *pgxpool.Pool) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{pool: pool}
}

const identityColumns = `id, name, primary_email, password_hash, avatar_url,
	email_otp_hash, email_otp_expires_at, password_reset_hash, password_reset_expires_at,
	legacy_email, legacy_google_id, legacy_email_verified,
	deleted, deleted_at, created_at, updated_at`

func (r *PostgresIdentityRepository) scanIdentity(ctx context.Context, row pgx.Row) (Identity, error) {
	var ident Identity
	err := row.Scan(
		&ident.ID, &ident.Name, &ident.PrimaryEmail, &ident.PasswordHash, &ident.AvatarURL,
		&ident.EmailOTPHash, &ident.EmailOTPExpiresAt, &ident.PasswordResetHash, &ident.PasswordResetExpiresAt,
		&ident.LegacyEmail, &ident.LegacyGoogleID, &ident.LegacyEmailVerified,
		&ident.Deleted, &ident.DeletedAt, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := r.loadChildren(ctx, &ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

func (r *PostgresIdentityRepository) loadChildren(ctx context.Context, ident *Identity) error {
	rows, err := r.pool.Query(ctx,
		`SELECT type, sub, email, email_verified_at, linked_at
		 FROM identity_providers WHERE identity_id = $1 ORDER BY linked_at`, ident.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.Type, &p.Sub, &p.Email, &p.EmailVerifiedAt, &p.LinkedAt); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ident.Providers = append(ident.Providers, p)
	}
	rows.Close()

	rows, err = r.pool.Query(ctx,
		`SELECT email, verified, verified_at, is_primary
		 FROM identity_emails WHERE identity_id = $1 ORDER BY email`, ident.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e EmailEntry
		if err := rows.Scan(&e.Email, &e.Verified, &e.VerifiedAt, &e.IsPrimary); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ident.Emails = append(ident.Emails, e)
	}
	rows.Close()

	rows, err = r.pool.Query(ctx,
		`SELECT token, created_at, expires_at
		 FROM identity_refresh_tokens WHERE identity_id = $1 ORDER BY created_at`, ident.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var rt RefreshTokenRecord
		if err := rows.Scan(&rt.Token, &rt.CreatedAt, &rt.ExpiresAt); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ident.RefreshTokens = append(ident.RefreshTokens, rt)
	}
	return rows.Err()
}

// FindByID returns the identity with the given id
func (r *PostgresIdentityRepository) FindByID(ctx context.Context, id uuid.UUID) (Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1 AND NOT deleted`, id)
	return r.scanIdentity(ctx, row)
}

// FindByProviderSub returns the identity owning the (type, sub) pair
func (r *PostgresIdentityRepository) FindByProviderSub(ctx context.Context, providerType ProviderType, sub string) (Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities i
		 WHERE NOT i.deleted AND EXISTS (
			SELECT 1 FROM identity_providers p
			WHERE p.identity_id = i.id AND p.type = $1 AND p.sub = $2
		 )`, string(providerType), sub)
	return r.scanIdentity(ctx, row)
}

// FindByEmail returns the identity claiming the email address
func (r *PostgresIdentityRepository) FindByEmail(ctx context.Context, email string, verifiedOnly bool) (Identity, error) {
	email = NormalizeEmail(email)
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities i
		 WHERE NOT i.deleted AND (
			EXISTS (
				SELECT 1 FROM identity_emails e
				WHERE e.identity_id = i.id AND e.email = $1 AND (NOT $2 OR e.verified)
			)
			OR (i.legacy_email = $1 AND (NOT $2 OR i.legacy_email_verified))
		 )`, email, verifiedOnly)
	return r.scanIdentity(ctx, row)
}

// FindByEmailChallenge returns the identity holding the address unverified
// with a pending email verification challenge
func (r *PostgresIdentityRepository) FindByEmailChallenge(ctx context.Context, email string) (Identity, error) {
	email = NormalizeEmail(email)
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities i
		 WHERE NOT i.deleted AND i.email_otp_hash <> '' AND EXISTS (
			SELECT 1 FROM identity_emails e
			WHERE e.identity_id = i.id AND e.email = $1 AND NOT e.verified
		 )`, email)
	return r.scanIdentity(ctx, row)
}

// FindByRefreshToken returns the identity holding the refresh token record
func (r *PostgresIdentityRepository) FindByRefreshToken(ctx context.Context, token string) (Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities i
		 WHERE NOT i.deleted AND EXISTS (
			SELECT 1 FROM identity_refresh_tokens t
			WHERE t.identity_id = i.id AND t.token = $1
		 )`, token)
	return r.scanIdentity(ctx, row)
}

// FindByPasswordResetToken returns the identity with the hashed reset token
func (r *PostgresIdentityRepository) FindByPasswordResetToken(ctx context.Context, tokenHash string) (Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities i
		 WHERE NOT i.deleted AND i.password_reset_hash <> '' AND i.password_reset_hash = $1`,
		tokenHash)
	return r.scanIdentity(ctx, row)
}

// Save persists the aggregate in a single transaction
func (r *PostgresIdentityRepository) Save(ctx context.Context, ident Identity) (Identity, error) {
	now := time.Now().UTC()
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			primary_email = EXCLUDED.primary_email,
			password_hash = EXCLUDED.password_hash,
			avatar_url = EXCLUDED.avatar_url,
			email_otp_hash = EXCLUDED.email_otp_hash,
			email_otp_expires_at = EXCLUDED.email_otp_expires_at,
			password_reset_hash = EXCLUDED.password_reset_hash,
			password_reset_expires_at = EXCLUDED.password_reset_expires_at,
			legacy_email = EXCLUDED.legacy_email,
			legacy_google_id = EXCLUDED.legacy_google_id,
			legacy_email_verified = EXCLUDED.legacy_email_verified,
			deleted = EXCLUDED.deleted,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at`,
		ident.ID, ident.Name, ident.PrimaryEmail, ident.PasswordHash, ident.AvatarURL,
		ident.EmailOTPHash, ident.EmailOTPExpiresAt, ident.PasswordResetHash, ident.PasswordResetExpiresAt,
		ident.LegacyEmail, ident.LegacyGoogleID, ident.LegacyEmailVerified,
		ident.Deleted, ident.DeletedAt, ident.CreatedAt, ident.UpdatedAt,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Child rows are rewritten wholesale; the aggregate is small and this
	// keeps every mutation path a single atomic unit.
	for _, table := range []string{"identity_providers", "identity_emails", "identity_refresh_tokens"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE identity_id = $1`, ident.ID); err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	for _, p := range ident.Providers {
		_, err := tx.Exec(ctx, `
			INSERT INTO identity_providers (identity_id, type, sub, email, email_verified_at, linked_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ident.ID, string(p.Type), p.Sub, p.Email, p.EmailVerifiedAt, p.LinkedAt)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	for _, e := range ident.Emails {
		_, err := tx.Exec(ctx, `
			INSERT INTO identity_emails (identity_id, email, verified, verified_at, is_primary)
			VALUES ($1, $2, $3, $4, $5)`,
			ident.ID, e.Email, e.Verified, e.VerifiedAt, e.IsPrimary)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	for _, rt := range ident.RefreshTokens {
		_, err := tx.Exec(ctx, `
			INSERT INTO identity_refresh_tokens (identity_id, token, created_at, expires_at)
			VALUES ($1, $2, $3, $4)`,
			ident.ID, rt.Token, rt.CreatedAt, rt.ExpiresAt)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ident, nil
}

// Delete removes the identity and all owned records
func (r *PostgresIdentityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
