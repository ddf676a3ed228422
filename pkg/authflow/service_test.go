package authflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authlink/authlink/pkg/googleverify"
	"github.com/authlink/authlink/pkg/identity"
	"github.com/authlink/authlink/pkg/notification"
	"github.com/authlink/authlink/pkg/provider"
	"github.com/authlink/authlink/pkg/tokenservice"
)

type fakeVerifier struct {
	claims googleverify.Claims
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, rawToken string) (googleverify.Claims, error) {
	if f.err != nil {
		return googleverify.Claims{}, f.err
	}
	return f.claims, nil
}

func newTestNotificationManager(t *testing.T) (*notification.NotificationManager, *notification.MockNotifier) {
	t.Helper()
	nm := notification.NewNotificationManager()
	mock := &notification.MockNotifier{}
	nm.RegisterNotifier(notification.EmailSystem, mock)
	require.NoError(t, nm.RegisterNotification(notification.EmailOTPNotice, notification.EmailSystem, notification.NoticeTemplate{Subject: "Verify Your Email Address"}))
	require.NoError(t, nm.RegisterNotification(notification.PasswordResetNotice, notification.EmailSystem, notification.NoticeTemplate{Subject: "Password Reset Request"}))
	return nm, mock
}

func newTestFlow(t *testing.T, opts ...AuthFlowServiceOption) (*AuthFlowService, identity.Repository, *notification.MockNotifier) {
	t.Helper()
	repo := identity.NewInMemoryIdentityRepository()
	providers := provider.NewProviderService(repo)
	tokens := tokenservice.NewTokenService(repo, "test-secret", "authlink", "authlink")
	nm, mock := newTestNotificationManager(t)

	opts = append([]AuthFlowServiceOption{WithNotificationManager(nm)}, opts...)
	return NewAuthFlowService(repo, providers, tokens, opts...), repo, mock
}

func lastSentCode(t *testing.T, mock *notification.MockNotifier) string {
	t.Helper()
	require.NotEmpty(t, mock.SentNotifications)
	code := mock.SentNotifications[len(mock.SentNotifications)-1].Data["Code"]
	require.NotEmpty(t, code)
	return code
}

func registerVerified(t *testing.T, svc *AuthFlowService, mock *notification.MockNotifier, name, email, password string) AuthResult {
	t.Helper()
	ctx := context.Background()

	_, err := svc.Register(ctx, name, email, password)
	require.NoError(t, err)

	result, err := svc.VerifyEmailOTP(ctx, email, lastSentCode(t, mock))
	require.NoError(t, err)
	return result
}

func TestRegisterCreatesUnverifiedIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	ident, err := svc.Register(ctx, "Test User", "User@Example.com", "password123")
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", ident.PrimaryEmail)
	assert.False(t, ident.PrimaryEmailVerified())
	assert.True(t, ident.HasProvider(identity.ProviderTypePassword, ""))
	assert.NotEmpty(t, ident.EmailOTPHash)

	require.Len(t, mock.SentNotices, 1)
	assert.Equal(t, notification.EmailOTPNotice, mock.SentNotices[0])
	assert.Equal(t, "user@example.com", mock.SentNotifications[0].To)
}

func TestRegisterVerifiedEmailRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	registerVerified(t, svc, mock, "First", "user@example.com", "password123")

	_, err := svc.Register(ctx, "Second", "user@example.com", "password456")
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestRegisterReusesAbandonedSignup(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestFlow(t)

	first, err := svc.Register(ctx, "First Try", "user@example.com", "password123")
	require.NoError(t, err)

	second, err := svc.Register(ctx, "Second Try", "user@example.com", "password456")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Second Try", second.Name)
}

func TestVerifyEmailOTP(t *testing.T) {
	ctx := context.Background()
	svc, repo, mock := newTestFlow(t)

	_, err := svc.Register(ctx, "Test User", "user@example.com", "password123")
	require.NoError(t, err)
	code := lastSentCode(t, mock)

	result, err := svc.VerifyEmailOTP(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.True(t, result.Identity.PrimaryEmailVerified())
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	// The challenge is single use
	_, err = svc.VerifyEmailOTP(ctx, "user@example.com", code)
	assert.ErrorIs(t, err, ErrInvalidOTP)

	stored, err := repo.FindByEmail(ctx, "user@example.com", true)
	require.NoError(t, err)
	assert.Empty(t, stored.EmailOTPHash)
}

func TestVerifyEmailOTPWrongCode(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestFlow(t)

	_, err := svc.Register(ctx, "Test User", "user@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.VerifyEmailOTP(ctx, "user@example.com", "000000")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	_, err = svc.VerifyEmailOTP(ctx, "nobody@example.com", "000000")
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestVerifyEmailOTPExpired(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t, WithOTPExpiry(-time.Minute))

	_, err := svc.Register(ctx, "Test User", "user@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.VerifyEmailOTP(ctx, "user@example.com", lastSentCode(t, mock))
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestResendOTP(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	_, err := svc.Register(ctx, "Test User", "user@example.com", "password123")
	require.NoError(t, err)
	firstCode := lastSentCode(t, mock)

	require.NoError(t, svc.ResendOTP(ctx, "user@example.com"))
	secondCode := lastSentCode(t, mock)

	// The earlier code is superseded
	_, err = svc.VerifyEmailOTP(ctx, "user@example.com", firstCode)
	if firstCode != secondCode {
		assert.ErrorIs(t, err, ErrInvalidOTP)
	}

	result, err := svc.VerifyEmailOTP(ctx, "user@example.com", secondCode)
	require.NoError(t, err)
	assert.True(t, result.Identity.PrimaryEmailVerified())
}

func TestResendOTPUnknownEmailSilent(t *testing.T) {
	svc, _, mock := newTestFlow(t)
	require.NoError(t, svc.ResendOTP(context.Background(), "nobody@example.com"))
	assert.Empty(t, mock.SentNotices)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	registered := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	result, err := svc.Login(ctx, "User@Example.com", "password123", false)
	require.NoError(t, err)
	assert.Equal(t, registered.Identity.ID, result.Identity.ID)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	_, err := svc.Login(ctx, "user@example.com", "wrong-password", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnverifiedEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestFlow(t)

	_, err := svc.Register(ctx, "Test User", "user@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "user@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestLoginMigratesLegacyIdentity(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestFlow(t)

	hash, err := HashPassword("password123")
	require.NoError(t, err)
	legacy := identity.Identity{
		PasswordHash:        hash,
		LegacyEmail:         "old@example.com",
		LegacyEmailVerified: true,
	}
	saved, err := repo.Save(ctx, legacy)
	require.NoError(t, err)

	result, err := svc.Login(ctx, "old@example.com", "password123", false)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, result.Identity.ID)
	assert.True(t, result.Identity.HasProvider(identity.ProviderTypePassword, ""))
	assert.NotNil(t, result.Identity.FindEmail("old@example.com"))
}

func TestRefreshAndLogout(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	result := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	pair, err := svc.Refresh(ctx, result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, result.Tokens.RefreshToken, pair.RefreshToken)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, tokenservice.ErrTokenNotFound)
}

func TestForgotAndResetPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	session := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	require.NoError(t, svc.ForgotPassword(ctx, "user@example.com"))
	require.Equal(t, notification.PasswordResetNotice, mock.SentNotices[len(mock.SentNotices)-1])
	token := lastSentCode(t, mock)

	require.NoError(t, svc.ResetPassword(ctx, token, "new-password"))

	// Old password dead, new one works
	_, err := svc.Login(ctx, "user@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "user@example.com", "new-password", false)
	assert.NoError(t, err)

	// Every pre-reset session is revoked
	_, err = svc.Refresh(ctx, session.Tokens.RefreshToken)
	assert.ErrorIs(t, err, tokenservice.ErrTokenNotFound)

	// The reset token is single use
	err = svc.ResetPassword(ctx, token, "another-password")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestForgotPasswordUnknownEmailSilent(t *testing.T) {
	svc, _, mock := newTestFlow(t)
	require.NoError(t, svc.ForgotPassword(context.Background(), "nobody@example.com"))
	assert.Empty(t, mock.SentNotices)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t, WithResetExpiry(-time.Minute))

	registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")
	require.NoError(t, svc.ForgotPassword(ctx, "user@example.com"))

	err := svc.ResetPassword(ctx, lastSentCode(t, mock), "new-password")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestResetPasswordAddsPasswordProvider(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "google-sub",
		Email:         "user@gmail.com",
		EmailVerified: true,
		Name:          "Google User",
	}}
	svc, _, mock := newTestFlow(t, WithGoogleVerifier(verifier))

	result, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)
	assert.False(t, result.Identity.HasProvider(identity.ProviderTypePassword, ""))

	require.NoError(t, svc.ForgotPassword(ctx, "user@gmail.com"))
	require.NoError(t, svc.ResetPassword(ctx, lastSentCode(t, mock), "new-password"))

	login, err := svc.Login(ctx, "user@gmail.com", "new-password", false)
	require.NoError(t, err)
	assert.True(t, login.Identity.HasProvider(identity.ProviderTypePassword, ""))
	assert.True(t, login.Identity.HasProvider(identity.ProviderTypeGoogle, "google-sub"))
}

func TestGoogleSignInCreatesIdentity(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "sub-1",
		Email:         "user@gmail.com",
		EmailVerified: true,
		Name:          "Google User",
	}}
	svc, _, _ := newTestFlow(t, WithGoogleVerifier(verifier))

	result, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)
	assert.True(t, result.Identity.HasProvider(identity.ProviderTypeGoogle, "sub-1"))
	assert.Equal(t, "user@gmail.com", result.Identity.PrimaryEmail)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	// Same sub resolves to the same identity
	again, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)
	assert.Equal(t, result.Identity.ID, again.Identity.ID)
}

func TestGoogleSignInAutoLinks(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "sub-1",
		Email:         "user@example.com",
		EmailVerified: true,
	}}
	svc, _, mock := newTestFlow(t, WithGoogleVerifier(verifier))

	existing := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	result, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)
	assert.Equal(t, existing.Identity.ID, result.Identity.ID)
	assert.True(t, result.Identity.HasProvider(identity.ProviderTypeGoogle, "sub-1"))
	assert.True(t, result.Identity.HasProvider(identity.ProviderTypePassword, ""))
}

func TestGoogleSignInUnverifiedClaimsEmailCreatesNewIdentity(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "sub-1",
		Email:         "user@example.com",
		EmailVerified: false,
	}}
	svc, _, mock := newTestFlow(t, WithGoogleVerifier(verifier))

	existing := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	result, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)
	// No auto-link without a verified claims email
	assert.NotEqual(t, existing.Identity.ID, result.Identity.ID)
}

func TestGoogleSignInInvalidToken(t *testing.T) {
	verifier := &fakeVerifier{err: googleverify.ErrInvalidToken}
	svc, _, _ := newTestFlow(t, WithGoogleVerifier(verifier))

	_, err := svc.GoogleSignIn(context.Background(), "bad-token", false)
	assert.ErrorIs(t, err, googleverify.ErrInvalidToken)
}

func TestGoogleSignInNotConfigured(t *testing.T) {
	svc, _, _ := newTestFlow(t)
	_, err := svc.GoogleSignIn(context.Background(), "raw-token", false)
	assert.ErrorIs(t, err, ErrGoogleNotConfigured)
}

func TestLinkGoogle(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "sub-1",
		Email:         "other@gmail.com",
		EmailVerified: true,
	}}
	svc, _, mock := newTestFlow(t, WithGoogleVerifier(verifier))

	session := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	result, err := svc.LinkGoogle(ctx, session.Identity.ID, "raw-token")
	require.NoError(t, err)
	assert.True(t, result.Identity.HasProvider(identity.ProviderTypeGoogle, "sub-1"))
	assert.NotNil(t, result.Identity.FindEmail("other@gmail.com"))
}

func TestLinkGoogleSubCollision(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "sub-1",
		Email:         "owner@gmail.com",
		EmailVerified: true,
	}}
	svc, _, mock := newTestFlow(t, WithGoogleVerifier(verifier))

	// First identity takes the sub
	_, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)

	session := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	_, err = svc.LinkGoogle(ctx, session.Identity.ID, "raw-token")
	assert.ErrorIs(t, err, provider.ErrSubLinkedElsewhere)
}

func TestLinkGoogleEmailCollision(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	// Another account verified the address the claims carry
	registerVerified(t, svc, mock, "Owner", "owner@example.com", "password123")
	session := registerVerified(t, svc, mock, "Linker", "linker@example.com", "password123")

	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "sub-1",
		Email:         "owner@example.com",
		EmailVerified: true,
	}}
	WithGoogleVerifier(verifier)(svc)

	_, err := svc.LinkGoogle(ctx, session.Identity.ID, "raw-token")
	assert.ErrorIs(t, err, provider.ErrEmailVerifiedElsewhere)
}

func TestUnlinkProviderLastFactor(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	session := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	_, err := svc.UnlinkProvider(ctx, session.Identity.ID, identity.ProviderTypePassword, "")
	assert.ErrorIs(t, err, provider.ErrLastFactor)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	svc, repo, mock := newTestFlow(t)

	session := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	require.NoError(t, svc.DeleteAccount(ctx, session.Identity.ID))

	_, err := repo.FindByID(ctx, session.Identity.ID)
	assert.ErrorIs(t, err, identity.ErrIdentityNotFound)

	_, err = svc.Login(ctx, "user@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Refresh(ctx, session.Tokens.RefreshToken)
	assert.ErrorIs(t, err, tokenservice.ErrTokenNotFound)
}

func TestDeleteAccountUnknownIdentity(t *testing.T) {
	svc, _, _ := newTestFlow(t)
	err := svc.DeleteAccount(context.Background(), uuid.New())
	assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
}

// seedUnverifiedHolder stores an established google account that holds the
// given address as an unverified secondary email.
func seedUnverifiedHolder(t *testing.T, repo identity.Repository, sub, primaryEmail, sharedEmail string) identity.Identity {
	t.Helper()
	holder := identity.Identity{
		Name:         "Holder " + sub,
		PrimaryEmail: primaryEmail,
		Providers: []identity.Provider{{
			Type:     identity.ProviderTypeGoogle,
			Sub:      sub,
			Email:    primaryEmail,
			LinkedAt: time.Now().UTC(),
		}},
	}
	holder.AddEmail(primaryEmail, true)
	holder.AddEmail(sharedEmail, false)
	saved, err := repo.Save(context.Background(), holder)
	require.NoError(t, err)
	return saved
}

func TestVerifyEmailOTPDuplicateUnverifiedAddress(t *testing.T) {
	ctx := context.Background()
	svc, repo, mock := newTestFlow(t)

	// Several established accounts hold the address unverified. The mailed
	// code must still verify the registrant, every time.
	for i := 0; i < 5; i++ {
		seedUnverifiedHolder(t, repo,
			fmt.Sprintf("holder-sub-%d", i),
			fmt.Sprintf("holder%d@gmail.com", i),
			"user@example.com")
	}

	_, err := svc.Register(ctx, "Mailbox Owner", "user@example.com", "password123")
	require.NoError(t, err)

	result, err := svc.VerifyEmailOTP(ctx, "user@example.com", lastSentCode(t, mock))
	require.NoError(t, err)
	assert.Equal(t, "Mailbox Owner", result.Identity.Name)
	assert.True(t, result.Identity.PrimaryEmailVerified())
}

func TestResendOTPDuplicateUnverifiedAddress(t *testing.T) {
	ctx := context.Background()
	svc, repo, mock := newTestFlow(t)

	for i := 0; i < 5; i++ {
		seedUnverifiedHolder(t, repo,
			fmt.Sprintf("holder-sub-%d", i),
			fmt.Sprintf("holder%d@gmail.com", i),
			"user@example.com")
	}

	_, err := svc.Register(ctx, "Mailbox Owner", "user@example.com", "password123")
	require.NoError(t, err)

	// Resend regenerates the registrant's challenge, not one on another
	// holder of the address.
	require.NoError(t, svc.ResendOTP(ctx, "user@example.com"))

	result, err := svc.VerifyEmailOTP(ctx, "user@example.com", lastSentCode(t, mock))
	require.NoError(t, err)
	assert.Equal(t, "Mailbox Owner", result.Identity.Name)
}

func TestResendOTPVerifiedEmailRejected(t *testing.T) {
	svc, _, mock := newTestFlow(t)
	registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	err := svc.ResendOTP(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestForgotPasswordResolvesVerifiedOwner(t *testing.T) {
	ctx := context.Background()
	svc, repo, mock := newTestFlow(t)

	owner := registerVerified(t, svc, mock, "Owner", "user@example.com", "password123")
	seedUnverifiedHolder(t, repo, "holder-sub", "holder@gmail.com", "user@example.com")

	require.NoError(t, svc.ForgotPassword(ctx, "user@example.com"))
	require.NoError(t, svc.ResetPassword(ctx, lastSentCode(t, mock), "new-password"))

	login, err := svc.Login(ctx, "user@example.com", "new-password", false)
	require.NoError(t, err)
	assert.Equal(t, owner.Identity.ID, login.Identity.ID)
}

func TestForgotPasswordUnverifiedAddressSilent(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	_, err := svc.Register(ctx, "Test User", "user@example.com", "password123")
	require.NoError(t, err)
	sent := len(mock.SentNotices)

	// No reset mail before the address is verified; the signup is
	// completed through the verification flow instead.
	require.NoError(t, svc.ForgotPassword(ctx, "user@example.com"))
	assert.Len(t, mock.SentNotices, sent)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestFlow(t)

	session := registerVerified(t, svc, mock, "Test User", "user@example.com", "password123")

	err := svc.ChangePassword(ctx, session.Identity.ID, "wrong-password", "new-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, session.Identity.ID, "", "new-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, session.Identity.ID, "password123", "new-password"))

	_, err = svc.Login(ctx, "user@example.com", "password123", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "user@example.com", "new-password", false)
	assert.NoError(t, err)
}

func TestChangePasswordGoogleOnlySetsFirst(t *testing.T) {
	ctx := context.Background()
	verifier := &fakeVerifier{claims: googleverify.Claims{
		Sub:           "google-sub",
		Email:         "user@gmail.com",
		EmailVerified: true,
		Name:          "Google User",
	}}
	svc, _, _ := newTestFlow(t, WithGoogleVerifier(verifier))

	result, err := svc.GoogleSignIn(ctx, "raw-token", false)
	require.NoError(t, err)
	require.False(t, result.Identity.HasProvider(identity.ProviderTypePassword, ""))

	// No current password exists to verify
	require.NoError(t, svc.ChangePassword(ctx, result.Identity.ID, "", "first-password"))

	login, err := svc.Login(ctx, "user@gmail.com", "first-password", false)
	require.NoError(t, err)
	assert.True(t, login.Identity.HasProvider(identity.ProviderTypePassword, ""))
	assert.True(t, login.Identity.HasProvider(identity.ProviderTypeGoogle, "google-sub"))
}

func TestChangePasswordUnknownIdentity(t *testing.T) {
	svc, _, _ := newTestFlow(t)
	err := svc.ChangePassword(context.Background(), uuid.New(), "old", "new")
	assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
}
