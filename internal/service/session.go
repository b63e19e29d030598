// Package service implements the session manager: registration, login,
// token-pair issuance, refresh rotation with theft detection, and
// revocation.
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldline/authd/internal/domain"
	"github.com/fieldline/authd/internal/store"
	"github.com/fieldline/authd/internal/token"
)

// MinPasswordLength is the minimum accepted password length in bytes.
const MinPasswordLength = 10

// CredentialStore is the persistence contract the session manager
// drives. The rotation and revocation operations must be atomic at the
// storage layer: the store may be shared by multiple process instances.
type CredentialStore interface {
	CreatePrincipal(ctx context.Context, p *domain.Principal) error
	GetPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (*domain.Principal, error)
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	SaveToken(ctx context.Context, rec *domain.RefreshTokenRecord) error
	RotateToken(ctx context.Context, jti string, now time.Time) (store.RotateStatus, string, string, error)
	RevokeToken(ctx context.Context, jti string, reason domain.RevocationReason, now time.Time) error
	RevokeFamily(ctx context.Context, family string, reason domain.RevocationReason, now time.Time) (int, error)
	RevokeAllForPrincipal(ctx context.Context, principalID string, reason domain.RevocationReason, now time.Time) (int, error)
}

// PasswordHasher is the opaque external hashing capability.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// TokenPair is one access token and one refresh token issued together.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Manager orchestrates the session-credential lifecycle over the
// credential store, token codec, and password hasher.
type Manager struct {
	store  CredentialStore
	codec  *token.Codec
	hasher PasswordHasher
	logger *zap.Logger
}

// NewManager wires a session [Manager]. A nil logger is replaced with a
// no-op logger.
func NewManager(cs CredentialStore, codec *token.Codec, hasher PasswordHasher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: cs, codec: codec, hasher: hasher, logger: logger}
}

// Register creates a principal under the normalized email. It does not
// issue tokens; issuance is a separate explicit step.
func (m *Manager) Register(ctx context.Context, email, pass, fullName string) (*domain.Principal, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(pass) < MinPasswordLength {
		return nil, domain.ErrInvalidInput
	}

	hash, err := m.hasher.Hash(pass)
	if err != nil {
		return nil, err
	}

	p := &domain.Principal{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Role:         domain.RoleUser,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := m.store.CreatePrincipal(ctx, p); err != nil {
		return nil, err
	}

	m.logger.Info("principal registered", zap.String("principal_id", p.ID))
	return p, nil
}

// Login verifies credentials. Unknown email and wrong password fail
// identically with [domain.ErrInvalidCredentials].
func (m *Manager) Login(ctx context.Context, email, pass string) (*domain.Principal, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	p, err := m.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrPrincipalNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := m.hasher.Verify(pass, p.PasswordHash)
	if err != nil || !ok {
		return nil, domain.ErrInvalidCredentials
	}

	return p, nil
}

// IssueTokenPair starts a new rotation family: it signs an access and a
// refresh token and persists the refresh record in the active state.
func (m *Manager) IssueTokenPair(ctx context.Context, p *domain.Principal, tctx domain.TokenContext) (TokenPair, error) {
	return m.issue(ctx, p, uuid.NewString(), tctx)
}

// Refresh redeems a refresh token: the presented record rotates to its
// successor in the same family, exactly once. A redemption attempt
// against an already-spent or expired record is treated as theft and
// poisons the whole family.
func (m *Manager) Refresh(ctx context.Context, presented string, tctx domain.TokenContext) (TokenPair, error) {
	claims, err := m.codec.VerifyRefresh(presented)
	if err != nil {
		return TokenPair{}, domain.ErrInvalidRefreshToken
	}

	now := time.Now()
	status, family, principalID, err := m.store.RotateToken(ctx, claims.ID, now)
	if err != nil {
		return TokenPair{}, err
	}

	switch status {
	case store.RotateOK:
		// fall through to successor issuance
	case store.RotateRevoked, store.RotateExpired:
		// A legitimate client redeems each refresh token once; a second
		// redemption implies leakage. Revoke every sibling in the chain.
		revoked, revErr := m.store.RevokeFamily(ctx, family, domain.ReasonReuseDetected, now)
		if revErr != nil {
			m.logger.Error("reuse cascade failed",
				zap.String("family_id", family), zap.Error(revErr))
		} else {
			m.logger.Warn("refresh token reuse detected",
				zap.String("family_id", family),
				zap.String("principal_id", principalID),
				zap.Int("revoked", revoked),
			)
		}
		return TokenPair{}, domain.ErrRefreshTokenRevoked
	default:
		return TokenPair{}, domain.ErrInvalidRefreshToken
	}

	p, err := m.store.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return TokenPair{}, err
	}

	return m.issue(ctx, p, family, tctx)
}

// Logout revokes the presented refresh token's record, best effort.
// A missing or invalid token is a success: the caller's goal of no
// longer being logged in is already satisfied.
func (m *Manager) Logout(ctx context.Context, presented string) {
	if presented == "" {
		return
	}
	claims, err := m.codec.VerifyRefresh(presented)
	if err != nil {
		m.logger.Debug("logout with unverifiable refresh token")
		return
	}
	if err := m.store.RevokeToken(ctx, claims.ID, domain.ReasonUserLogout, time.Now()); err != nil {
		m.logger.Warn("logout revocation failed", zap.String("jti", claims.ID), zap.Error(err))
	}
}

// LogoutAll revokes every active refresh record for the principal
// across all families and returns how many records were revoked.
func (m *Manager) LogoutAll(ctx context.Context, principalID string) (int, error) {
	return m.store.RevokeAllForPrincipal(ctx, principalID, domain.ReasonUserLogoutAll, time.Now())
}

// VerifyEmail marks the principal's email verified.
func (m *Manager) VerifyEmail(ctx context.Context, principalID string) error {
	return m.store.MarkEmailVerified(ctx, principalID)
}

// ChangePassword re-verifies the current password, installs the new
// hash, and revokes every outstanding refresh record.
func (m *Manager) ChangePassword(ctx context.Context, principalID, current, next string) error {
	if len(next) < MinPasswordLength {
		return domain.ErrInvalidInput
	}

	p, err := m.store.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return err
	}

	ok, err := m.hasher.Verify(current, p.PasswordHash)
	if err != nil || !ok {
		return domain.ErrInvalidCredentials
	}

	hash, err := m.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := m.store.UpdatePasswordHash(ctx, principalID, hash); err != nil {
		return err
	}

	revoked, err := m.store.RevokeAllForPrincipal(ctx, principalID, domain.ReasonUserLogoutAll, time.Now())
	if err != nil {
		return err
	}
	m.logger.Info("password changed",
		zap.String("principal_id", principalID), zap.Int("sessions_revoked", revoked))
	return nil
}

// Principal loads a principal by ID.
func (m *Manager) Principal(ctx context.Context, id string) (*domain.Principal, error) {
	return m.store.GetPrincipalByID(ctx, id)
}

func (m *Manager) issue(ctx context.Context, p *domain.Principal, family string, tctx domain.TokenContext) (TokenPair, error) {
	jti := uuid.NewString()
	now := time.Now()

	access, err := m.codec.SignAccess(p, nil)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.codec.SignRefresh(p.ID, jti, family)
	if err != nil {
		return TokenPair{}, err
	}

	rec := &domain.RefreshTokenRecord{
		JTI:         jti,
		PrincipalID: p.ID,
		FamilyID:    family,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.codec.RefreshTTL()),
		UserAgent:   tctx.UserAgent,
		IP:          tctx.IP,
	}
	if err := m.store.SaveToken(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// NormalizeEmail lowercases and trims the address and rejects anything
// that does not parse as a bare RFC 5322 address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidInput
	}
	return email, nil
}
