package provider

import "errors"

var (
	// ErrProviderAlreadyLinked is returned when linking a provider type the
	// identity already has. Idempotent linking is rejected; callers must
	// unlink first.
	ErrProviderAlreadyLinked = errors.New("provider already linked to this account")

	// ErrProviderNotFound is returned when unlinking a provider the
	// identity does not have
	ErrProviderNotFound = errors.New("provider not found on this account")

	// ErrLastFactor is returned when unlinking would remove the identity's
	// only remaining sign-in method
	ErrLastFactor = errors.New("cannot unlink the last authentication method")

	// ErrSubLinkedElsewhere is returned when another identity already owns
	// the external (type, sub) pair
	ErrSubLinkedElsewhere = errors.New("external account already linked to another user")

	// ErrEmailVerifiedElsewhere is returned when another identity already
	// holds the email address as a verified entry
	ErrEmailVerifiedElsewhere = errors.New("email already verified on another account")
)
