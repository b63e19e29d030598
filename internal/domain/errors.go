package domain

import "errors"

var (
	// ErrInvalidInput indicates a malformed email or a password below
	// the minimum length.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateIdentity indicates the normalized email is already
	// registered.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrInvalidCredentials is returned for both unknown-email and
	// wrong-password logins. The two cases are intentionally
	// indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRefreshToken indicates a refresh token that failed
	// signature or expiry verification, or whose record was never issued.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenRevoked indicates the presented refresh token was
	// already redeemed or revoked; redemption attempts against it revoke
	// the whole token family.
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
	// ErrUnauthenticated indicates a protected route was reached without
	// a resolvable identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRateLimited indicates the per-key request budget was exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrPrincipalNotFound indicates a lookup by principal ID missed.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrStoreUnavailable wraps credential store backend failures.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)
