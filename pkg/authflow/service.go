package authflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/authlink/authlink/pkg/googleverify"
	"github.com/authlink/authlink/pkg/identity"
	"github.com/authlink/authlink/pkg/notification"
	"github.com/authlink/authlink/pkg/provider"
	"github.com/authlink/authlink/pkg/tokenservice"
	"github.com/authlink/authlink/pkg/utils"
)

const otpLength = 6

// isUnfinishedSignup reports whether the identity is an abandoned password
// registration for the address, safe to hand to a new registrant.
func isUnfinishedSignup(ident identity.Identity, email string) bool {
	if ident.PrimaryEmail != email || ident.PrimaryEmailVerified() {
		return false
	}
	for _, p := range ident.Providers {
		if p.Type != identity.ProviderTypePassword {
			return false
		}
	}
	return true
}

func newPasswordIdentity(name, email, passwordHash string) identity.Identity {
	ident := identity.Identity{
		Name:         name,
		PrimaryEmail: email,
		PasswordHash: passwordHash,
	}
	ident.AddEmail(email, false)
	return ident
}

// AuthResult is the outcome of a flow that establishes a session.
type AuthResult struct {
	Identity identity.Identity
	Tokens   tokenservice.TokenPair
}

// AuthFlowService orchestrates registration, login, email verification,
// password reset, google sign-in and account lifecycle on top of the
// provider engine and the token service.
type AuthFlowService struct {
	repo        identity.Repository
	providers   *provider.ProviderService
	tokens      *tokenservice.TokenService
	verifier    googleverify.Verifier
	notifier    *notification.NotificationManager
	otpExpiry   time.Duration
	resetExpiry time.Duration
}

// AuthFlowServiceOption is a functional option for configuring AuthFlowService
type AuthFlowServiceOption func(*AuthFlowService)

// WithGoogleVerifier sets the verifier used by the google flows
func WithGoogleVerifier(v googleverify.Verifier) AuthFlowServiceOption {
	return func(s *AuthFlowService) {
		s.verifier = v
	}
}

// WithNotificationManager sets the manager used to send OTP and reset mail
func WithNotificationManager(nm *notification.NotificationManager) AuthFlowServiceOption {
	return func(s *AuthFlowService) {
		s.notifier = nm
	}
}

// WithOTPExpiry overrides the email verification code lifetime
func WithOTPExpiry(d time.Duration) AuthFlowServiceOption {
	return func(s *AuthFlowService) {
		s.otpExpiry = d
	}
}

// WithResetExpiry overrides the password reset token lifetime
func WithResetExpiry(d time.Duration) AuthFlowServiceOption {
	return func(s *AuthFlowService) {
		s.resetExpiry = d
	}
}

// NewAuthFlowService creates a new auth flow orchestrator
func NewAuthFlowService(repo identity.Repository, providers *provider.ProviderService, tokens *tokenservice.TokenService, opts ...AuthFlowServiceOption) *AuthFlowService {
	s := &AuthFlowService{
		repo:        repo,
		providers:   providers,
		tokens:      tokens,
		otpExpiry:   10 * time.Minute,
		resetExpiry: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a password identity with an unverified primary email and
// sends a verification code. Registering an address that an existing
// identity holds unverified reuses that identity, so an abandoned signup
// can be completed later with fresh details.
func (s *AuthFlowService) Register(ctx context.Context, name, email, password string) (identity.Identity, error) {
	email = identity.NormalizeEmail(email)

	hash, err := HashPassword(password)
	if err != nil {
		return identity.Identity{}, err
	}

	existing, err := s.repo.FindByEmail(ctx, email, false)
	var ident identity.Identity
	switch {
	case err == nil:
		existing, err = s.providers.MigrateLegacyIdentity(ctx, existing)
		if err != nil {
			return identity.Identity{}, err
		}
		if entry := existing.FindEmail(email); entry != nil && entry.Verified {
			return identity.Identity{}, ErrEmailAlreadyRegistered
		}
		if !isUnfinishedSignup(existing, email) {
			// Some established account holds the address unverified.
			// That claim never blocks a fresh registration, and the new
			// signup must not take that account over.
			ident = newPasswordIdentity(name, email, hash)
			break
		}
		// Reuse the abandoned signup: whoever proves the mailbox owns
		// the account, so the new registration takes over.
		ident = existing
		ident.Name = name
		ident.PasswordHash = hash
	case errors.Is(err, identity.ErrIdentityNotFound):
		ident = newPasswordIdentity(name, email, hash)
	default:
		return identity.Identity{}, err
	}

	if !ident.HasProvider(identity.ProviderTypePassword, "") {
		ident.AddProvider(identity.Provider{
			Type:     identity.ProviderTypePassword,
			LinkedAt: time.Now().UTC(),
		})
	}

	code := utils.GenerateRandomDigits(otpLength)
	expires := time.Now().UTC().Add(s.otpExpiry)
	ident.EmailOTPHash = hashChallenge(code)
	ident.EmailOTPExpiresAt = &expires

	saved, err := s.repo.Save(ctx, ident)
	if err != nil {
		slog.Error("Failed to save identity on register", "email", utils.MaskEmail(email), "err", err)
		return identity.Identity{}, err
	}

	s.sendNotice(notification.EmailOTPNotice, email, map[string]string{"Code": code})
	slog.Info("Registered identity", "identity_id", saved.ID, "email", utils.MaskEmail(email))
	return saved, nil
}

// VerifyEmailOTP consumes a verification code, marks the address verified
// and starts a session. Resolution goes through the pending challenge, not
// the address alone: another identity may hold the same address unverified,
// and a plain email lookup could land on it and reject a valid code.
func (s *AuthFlowService) VerifyEmailOTP(ctx context.Context, email, code string) (AuthResult, error) {
	email = identity.NormalizeEmail(email)

	ident, err := s.repo.FindByEmailChallenge(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return AuthResult{}, ErrInvalidOTP
		}
		return AuthResult{}, err
	}

	if ident.EmailOTPHash == "" || ident.EmailOTPExpiresAt == nil || time.Now().UTC().After(*ident.EmailOTPExpiresAt) {
		return AuthResult{}, ErrInvalidOTP
	}
	if !challengeMatches(code, ident.EmailOTPHash) {
		return AuthResult{}, ErrInvalidOTP
	}

	// Re-check immediately before the write: another identity may have
	// verified the same address since this code was issued.
	taken, err := s.providers.CheckEmailCollision(ctx, email, ident.ID)
	if err != nil {
		return AuthResult{}, err
	}
	if taken {
		return AuthResult{}, ErrEmailAlreadyRegistered
	}

	ident.VerifyEmail(email)
	ident.EmailOTPHash = ""
	ident.EmailOTPExpiresAt = nil

	saved, err := s.repo.Save(ctx, ident)
	if err != nil {
		slog.Error("Failed to save identity on email verification", "identity_id", ident.ID, "err", err)
		return AuthResult{}, err
	}

	pair, err := s.tokens.Issue(ctx, saved.ID, false)
	if err != nil {
		return AuthResult{}, err
	}
	slog.Info("Email verified", "identity_id", saved.ID, "email", utils.MaskEmail(email))
	return AuthResult{Identity: saved, Tokens: pair}, nil
}

// ResendOTP regenerates and resends the email verification code for the
// signup with a pending challenge on the address. Addresses without one
// succeed silently so the endpoint cannot be used to enumerate accounts.
func (s *AuthFlowService) ResendOTP(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)

	if _, err := s.repo.FindByEmail(ctx, email, true); err == nil {
		return ErrEmailAlreadyRegistered
	} else if !errors.Is(err, identity.ErrIdentityNotFound) {
		return err
	}

	ident, err := s.repo.FindByEmailChallenge(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			slog.Info("Resend requested without pending signup", "email", utils.MaskEmail(email))
			return nil
		}
		return err
	}

	code := utils.GenerateRandomDigits(otpLength)
	expires := time.Now().UTC().Add(s.otpExpiry)
	ident.EmailOTPHash = hashChallenge(code)
	ident.EmailOTPExpiresAt = &expires

	if _, err := s.repo.Save(ctx, ident); err != nil {
		slog.Error("Failed to save identity on resend", "identity_id", ident.ID, "err", err)
		return err
	}

	s.sendNotice(notification.EmailOTPNotice, email, map[string]string{"Code": code})
	return nil
}

// Login authenticates with email and password and starts a session. Legacy
// flat-schema identities are migrated in passing, so the first login after
// an import normalizes the record.
func (s *AuthFlowService) Login(ctx context.Context, email, password string, remember bool) (AuthResult, error) {
	email = identity.NormalizeEmail(email)

	ident, err := s.repo.FindByEmail(ctx, email, false)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ident, err = s.providers.MigrateLegacyIdentity(ctx, ident)
	if err != nil {
		return AuthResult{}, err
	}

	if !ident.HasProvider(identity.ProviderTypePassword, "") || ident.PasswordHash == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	match, err := CheckPasswordHash(password, ident.PasswordHash)
	if err != nil {
		return AuthResult{}, err
	}
	if !match {
		return AuthResult{}, ErrInvalidCredentials
	}

	if !ident.PrimaryEmailVerified() {
		return AuthResult{}, ErrEmailNotVerified
	}

	ident, err = s.tokens.SweepExpired(ctx, ident)
	if err != nil {
		return AuthResult{}, err
	}

	pair, err := s.tokens.Issue(ctx, ident.ID, remember)
	if err != nil {
		return AuthResult{}, err
	}
	slog.Info("Login succeeded", "identity_id", ident.ID, "email", utils.MaskEmail(email), "remember", remember)
	return AuthResult{Identity: ident, Tokens: pair}, nil
}

// Refresh rotates a refresh token into a fresh token pair.
func (s *AuthFlowService) Refresh(ctx context.Context, refreshToken string) (tokenservice.TokenPair, error) {
	return s.tokens.Rotate(ctx, refreshToken)
}

// Logout revokes a single refresh token. Revoking an unknown token is not
// an error.
func (s *AuthFlowService) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.tokens.Revoke(ctx, refreshToken)
	return err
}

// LogoutAll revokes every refresh token the identity holds.
func (s *AuthFlowService) LogoutAll(ctx context.Context, identityID uuid.UUID) error {
	_, err := s.tokens.RevokeAll(ctx, identityID)
	return err
}

// ForgotPassword stores a single-use reset challenge and mails it to the
// address. Only the identity that verified the address can receive one;
// an unverified address may be held by several identities at once, and an
// account that never verified cannot log in, so it has no password to
// recover. Unknown and unverified addresses succeed silently.
func (s *AuthFlowService) ForgotPassword(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)

	ident, err := s.repo.FindByEmail(ctx, email, true)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			slog.Info("Password reset requested for unknown email", "email", utils.MaskEmail(email))
			return nil
		}
		return err
	}

	token := utils.GenerateRandomString(32)
	expires := time.Now().UTC().Add(s.resetExpiry)
	ident.PasswordResetHash = hashChallenge(token)
	ident.PasswordResetExpiresAt = &expires

	if _, err := s.repo.Save(ctx, ident); err != nil {
		slog.Error("Failed to save identity on password reset init", "identity_id", ident.ID, "err", err)
		return err
	}

	s.sendNotice(notification.PasswordResetNotice, email, map[string]string{"Code": token})
	slog.Info("Password reset initiated", "identity_id", ident.ID, "email", utils.MaskEmail(email))
	return nil
}

// ResetPassword consumes a reset token, sets the new password, ensures a
// password provider exists and revokes every open session.
func (s *AuthFlowService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ident, err := s.repo.FindByPasswordResetToken(ctx, hashChallenge(token))
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}

	if ident.PasswordResetExpiresAt == nil || time.Now().UTC().After(*ident.PasswordResetExpiresAt) {
		return ErrInvalidResetToken
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	ident.PasswordHash = hash
	ident.PasswordResetHash = ""
	ident.PasswordResetExpiresAt = nil
	if !ident.HasProvider(identity.ProviderTypePassword, "") {
		// A google-only account that completes a reset gains a password
		// sign-in method.
		ident.AddProvider(identity.Provider{
			Type:     identity.ProviderTypePassword,
			LinkedAt: time.Now().UTC(),
		})
	}

	if _, err := s.repo.Save(ctx, ident); err != nil {
		slog.Error("Failed to save identity on password reset", "identity_id", ident.ID, "err", err)
		return err
	}

	if _, err := s.tokens.RevokeAll(ctx, ident.ID); err != nil {
		return err
	}
	slog.Info("Password reset completed", "identity_id", ident.ID)
	return nil
}

// ChangePassword sets a new password after verifying the current one. A
// google-only identity sets its first password here and gains a password
// sign-in method; no current password exists to verify in that case.
func (s *AuthFlowService) ChangePassword(ctx context.Context, identityID uuid.UUID, currentPassword, newPassword string) error {
	ident, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return err
	}

	if ident.HasProvider(identity.ProviderTypePassword, "") && ident.PasswordHash != "" {
		match, err := CheckPasswordHash(currentPassword, ident.PasswordHash)
		if err != nil || !match {
			return ErrInvalidCredentials
		}
	} else if !ident.HasProvider(identity.ProviderTypePassword, "") {
		ident.AddProvider(identity.Provider{
			Type:     identity.ProviderTypePassword,
			Email:    ident.PrimaryEmail,
			LinkedAt: time.Now().UTC(),
		})
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	ident.PasswordHash = hash

	if _, err := s.repo.Save(ctx, ident); err != nil {
		slog.Error("Failed to save identity on password change", "identity_id", ident.ID, "err", err)
		return err
	}
	slog.Info("Password changed", "identity_id", ident.ID)
	return nil
}

// GoogleSignIn verifies a google id token and resolves it to a session.
// Resolution order: existing google link, auto-link onto the identity that
// verified the claims email, then a brand new identity.
func (s *AuthFlowService) GoogleSignIn(ctx context.Context, rawIDToken string, remember bool) (AuthResult, error) {
	claims, err := s.verifyGoogle(ctx, rawIDToken)
	if err != nil {
		return AuthResult{}, err
	}

	ident, err := s.providers.FindBySub(ctx, identity.ProviderTypeGoogle, claims.Sub)
	switch {
	case err == nil:
		ident, err = s.providers.MigrateLegacyIdentity(ctx, ident)
		if err != nil {
			return AuthResult{}, err
		}
	case errors.Is(err, identity.ErrIdentityNotFound):
		ident, err = s.resolveUnlinkedGoogle(ctx, claims)
		if err != nil {
			return AuthResult{}, err
		}
	default:
		return AuthResult{}, err
	}

	pair, err := s.tokens.Issue(ctx, ident.ID, remember)
	if err != nil {
		return AuthResult{}, err
	}
	slog.Info("Google sign-in succeeded", "identity_id", ident.ID)
	return AuthResult{Identity: ident, Tokens: pair}, nil
}

// resolveUnlinkedGoogle handles a google sub no identity owns yet: auto-link
// when the claims email is verified and an identity verified the same
// address, otherwise create a fresh identity.
func (s *AuthFlowService) resolveUnlinkedGoogle(ctx context.Context, claims provider.ExternalClaims) (identity.Identity, error) {
	if claims.Email != "" && claims.EmailVerified {
		ident, found, err := s.providers.AutoLinkByVerifiedEmail(ctx, claims.Email, claims)
		if err != nil {
			return identity.Identity{}, err
		}
		if found {
			slog.Info("Auto-linked google account by verified email", "identity_id", ident.ID, "email", utils.MaskEmail(claims.Email))
			return ident, nil
		}
	}
	return s.providers.CreateFromExternalClaims(ctx, claims)
}

// LinkGoogle attaches a google account to an existing identity after
// collision checks, then issues a fresh session reflecting the link.
func (s *AuthFlowService) LinkGoogle(ctx context.Context, identityID uuid.UUID, rawIDToken string) (AuthResult, error) {
	claims, err := s.verifyGoogle(ctx, rawIDToken)
	if err != nil {
		return AuthResult{}, err
	}

	taken, err := s.providers.CheckSubCollision(ctx, identity.ProviderTypeGoogle, claims.Sub, identityID)
	if err != nil {
		return AuthResult{}, err
	}
	if taken {
		return AuthResult{}, provider.ErrSubLinkedElsewhere
	}

	if claims.Email != "" && claims.EmailVerified {
		taken, err := s.providers.CheckEmailCollision(ctx, claims.Email, identityID)
		if err != nil {
			return AuthResult{}, err
		}
		if taken {
			return AuthResult{}, provider.ErrEmailVerifiedElsewhere
		}
	}

	ident, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return AuthResult{}, err
	}

	linked, err := s.providers.LinkToIdentity(ctx, ident, claims)
	if err != nil {
		return AuthResult{}, err
	}

	pair, err := s.tokens.Issue(ctx, linked.ID, false)
	if err != nil {
		return AuthResult{}, err
	}
	slog.Info("Google account linked", "identity_id", linked.ID)
	return AuthResult{Identity: linked, Tokens: pair}, nil
}

// UnlinkProvider removes a sign-in method, refusing to remove the last one.
func (s *AuthFlowService) UnlinkProvider(ctx context.Context, identityID uuid.UUID, providerType identity.ProviderType, sub string) (identity.Identity, error) {
	return s.providers.UnlinkProvider(ctx, identityID, providerType, sub)
}

// Me returns the identity behind an authenticated session.
func (s *AuthFlowService) Me(ctx context.Context, identityID uuid.UUID) (identity.Identity, error) {
	return s.repo.FindByID(ctx, identityID)
}

// DeleteAccount soft-deletes the identity and revokes every session.
func (s *AuthFlowService) DeleteAccount(ctx context.Context, identityID uuid.UUID) error {
	ident, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return err
	}

	if _, err := s.tokens.RevokeAll(ctx, identityID); err != nil {
		return err
	}

	now := time.Now().UTC()
	ident.Deleted = true
	ident.DeletedAt = &now
	ident.RefreshTokens = nil

	if _, err := s.repo.Save(ctx, ident); err != nil {
		slog.Error("Failed to save identity on delete", "identity_id", identityID, "err", err)
		return err
	}
	slog.Info("Account deleted", "identity_id", identityID)
	return nil
}

// verifyGoogle runs the configured verifier and maps its claims onto the
// provider engine's claim type.
func (s *AuthFlowService) verifyGoogle(ctx context.Context, rawIDToken string) (provider.ExternalClaims, error) {
	if s.verifier == nil {
		return provider.ExternalClaims{}, ErrGoogleNotConfigured
	}

	verified, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return provider.ExternalClaims{}, err
	}

	var claims provider.ExternalClaims
	if err := copier.Copy(&claims, &verified); err != nil {
		return provider.ExternalClaims{}, err
	}
	claims.Email = identity.NormalizeEmail(claims.Email)
	return claims, nil
}

func (s *AuthFlowService) sendNotice(noticeType notification.NoticeType, to string, data map[string]string) {
	if s.notifier == nil {
		slog.Warn("No notification manager configured, skipping notice", "noticeType", noticeType, "to", utils.MaskEmail(to))
		return
	}
	if err := s.notifier.Send(noticeType, notification.EmailSystem, notification.NotificationData{To: to, Data: data}); err != nil {
		slog.Error("Failed to send notice", "noticeType", noticeType, "to", utils.MaskEmail(to), "err", err)
	}
}
