// Package authflow orchestrates the user-facing authentication flows:
// registration with email verification, password login, refresh token
// rotation, password reset, google sign-in with auto-linking, provider
// unlinking and account deletion.
//
// The package composes the provider linking engine, the token service and
// the notification manager; it holds no state of its own beyond flow
// configuration. All account safety rules (collision checks, the
// last-factor rule, reuse detection) live in the composed services; this
// layer decides when to invoke them and in which order.
package authflow
