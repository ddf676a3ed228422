// Package provider implements the account-linking engine that reconciles
// password and external (Google) authentication methods onto identities.
//
// # Overview
//
// The engine offers:
//   - Exact lookup by external subject id (FindBySub)
//   - Lookup by verified email for auto-linking (FindByVerifiedEmail)
//   - Collision checks against other identities (CheckSubCollision,
//     CheckEmailCollision)
//   - Identity creation from verified external claims
//   - Linking and unlinking of providers (LinkToIdentity, UnlinkProvider)
//   - Auto-linking onto an account whose email is already verified
//   - A legacy flat-schema migration shim (MigrateLegacyIdentity)
//
// # Safety rules
//
// Account takeover via unverified email collision is prevented by gating
// every email-based merge on the existing entry being verified: an attacker
// who registers with a victim's address but never verifies it gains nothing
// when the victim later signs in with Google.
//
// Last-factor protection rejects any unlink that would leave an identity
// with zero providers, so no account can be locked out of every sign-in
// method. The rule is count-based only; it does not distinguish provider
// types.
//
// LinkToIdentity deliberately performs no collision checks of its own. The
// caller runs CheckSubCollision and CheckEmailCollision immediately before
// linking and re-validates them as close to the write as possible, since
// concurrent requests may race.
//
// # Basic usage
//
//	svc := provider.NewProviderService(repo)
//
//	// OAuth sign-in priority order:
//	ident, err := svc.FindBySub(ctx, identity.ProviderTypeGoogle, claims.Sub)
//	if errors.Is(err, identity.ErrIdentityNotFound) {
//		ident, found, err := svc.AutoLinkByVerifiedEmail(ctx, claims.Email, claims)
//		if !found {
//			ident, err = svc.CreateFromExternalClaims(ctx, claims)
//		}
//	}
package provider
