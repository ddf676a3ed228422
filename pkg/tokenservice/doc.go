// Package tokenservice manages rotating access/refresh credential pairs.
//
// Rotation is single-use: a refresh token can fund exactly one Rotate call.
// Replay of a token that was already rotated away or has expired is treated
// as evidence of theft, and the whole session set for the owning identity is
// revoked before ErrReuseDetected is surfaced. That side effect is not
// configurable.
//
// Expired records are reaped lazily via SweepExpired; no background
// scheduler is involved.
package tokenservice
