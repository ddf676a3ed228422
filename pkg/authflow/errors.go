package authflow

import "errors"

var (
	// ErrEmailAlreadyRegistered is returned when registering an address
	// another account already verified
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrInvalidCredentials is returned on any password login failure.
	// The message never distinguishes unknown email from wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailNotVerified is returned when logging in before the primary
	// email address has been verified
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrInvalidOTP is returned for an unknown, expired or mismatched
	// verification code
	ErrInvalidOTP = errors.New("invalid or expired verification code")

	// ErrInvalidResetToken is returned for an unknown, expired or consumed
	// password reset token
	ErrInvalidResetToken = errors.New("invalid or expired reset token")

	// ErrGoogleNotConfigured is returned when a google flow is invoked
	// without a configured verifier
	ErrGoogleNotConfigured = errors.New("google sign-in is not configured")
)
