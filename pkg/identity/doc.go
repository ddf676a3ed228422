// Package identity defines the Identity aggregate and its credential store
// contract.
//
// An Identity is the canonical user record. It owns three child collections:
// Provider records (bound authentication methods), EmailEntry records
// (addresses with independent verification state) and RefreshTokenRecord
// entries (outstanding refresh credentials). The aggregate methods on
// Identity mutate in memory only; nothing is persisted until the repository's
// Save is called with the whole aggregate.
//
// # Invariants
//
//   - An identity keeps at least one provider once created.
//   - PrimaryEmail corresponds to exactly one EmailEntry with IsPrimary set.
//   - A (google, sub) pair belongs to at most one identity globally.
//   - A verified email address belongs to at most one identity globally.
//     Unverified entries may collide across identities.
//
// The global uniqueness invariants are enforced by lookup-before-write in the
// services on top of this package; the postgres repository additionally backs
// them with partial unique indexes.
//
// # Repositories
//
// Two implementations are provided:
//
//	repo := identity.NewInMemoryIdentityRepository()          // tests, demos
//	repo := identity.NewPostgresIdentityRepository(pool)      // production
//
// Both treat Save as an atomic replacement of the aggregate, which is what
// makes refresh-token rotation ("delete old, append new, Save") atomic from
// the caller's point of view.
package identity
