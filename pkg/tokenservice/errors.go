package tokenservice

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails parsing,
	// signature or expiry checks
	ErrInvalidToken = errors.New("invalid token")

	// ErrReuseDetected is returned when a rotated-away or expired refresh
	// token is replayed. All refresh tokens for the owning identity are
	// revoked before this error is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected - all sessions revoked")

	// ErrTokenNotFound is returned when a refresh token was never issued
	ErrTokenNotFound = errors.New("refresh token not found")
)
