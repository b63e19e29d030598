package domain

import "time"

// RevocationReason records why a refresh-token record left the active
// state. The value is terminal; no transition returns a record to active.
type RevocationReason string

const (
	// ReasonRotated marks the predecessor record after a successful
	// refresh rotation.
	ReasonRotated RevocationReason = "rotated"
	// ReasonReuseDetected marks records revoked by the theft-detection
	// cascade after a second redemption of an already-spent token.
	ReasonReuseDetected RevocationReason = "reuse_detected"
	// ReasonUserLogout marks a record revoked by an explicit logout.
	ReasonUserLogout RevocationReason = "user_logout"
	// ReasonUserLogoutAll marks records revoked by a principal-wide
	// logout across all families.
	ReasonUserLogoutAll RevocationReason = "user_logout_all"
)

// TokenContext carries optional per-issuance client metadata.
type TokenContext struct {
	UserAgent string
	IP        string
}

// RefreshTokenRecord is the persisted side of a refresh token. Records
// are created on issuance and rotation, mutated only by the session
// manager through the credential store, and never deleted — revoked
// records are retained for audit and theft detection.
type RefreshTokenRecord struct {
	JTI         string
	PrincipalID string
	FamilyID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
	RevokedAt   time.Time
	Reason      RevocationReason
	UserAgent   string
	IP          string
}

// Active reports whether the record can still be redeemed at the given
// instant: not revoked and not expired.
func (r *RefreshTokenRecord) Active(now time.Time) bool {
	return r.RevokedAt.IsZero() && now.Before(r.ExpiresAt)
}
