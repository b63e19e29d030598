// Package token signs and verifies the compact claim sets carried by
// access and refresh tokens. The codec is stateless: validity is a pure
// function of the configured Ed25519 key pair and the clock.
package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fieldline/authd/internal/domain"
)

// Config holds the codec key pair, claim issuer/audience, and lifetimes.
// Instances are configured at startup and treated as immutable.
type Config struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Codec signs and verifies tokens with a single fixed asymmetric
// algorithm (EdDSA). Verification never trusts an algorithm or key
// named inside the token itself.
type Codec struct {
	config Config
}

// AccessClaims is the stateless claim bundle of an access token.
type AccessClaims struct {
	Email  string   `json:"email"`
	Role   string   `json:"role"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the signed side of a refresh token; the persisted
// record it names holds the revocation state.
type RefreshClaims struct {
	Family string `json:"family"`
	jwt.RegisteredClaims
}

// ErrTokenInvalid covers any signature, algorithm, expiry, or claim
// failure during verification.
var ErrTokenInvalid = errors.New("invalid token")

// NewCodec validates the configuration and returns a [Codec].
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway configuration")
	}
	return &Codec{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// SignAccess issues an access token for the principal with the short
// configured lifetime.
func (c *Codec) SignAccess(p *domain.Principal, scopes []string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Email:  p.Email,
		Role:   p.Role,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.AccessTTL)),
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(c.config.PrivateKey)
}

// SignRefresh issues a refresh token naming the record jti and its
// rotation family, with the long configured lifetime.
func (c *Codec) SignRefresh(principalID, jti, family string) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		Family: family,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ID:        jti,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.RefreshTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(c.config.PrivateKey)
}

// VerifyAccess checks signature, algorithm, expiry, issuer, and
// audience of an access token. Any mismatch, including malformed input,
// yields [ErrTokenInvalid].
func (c *Codec) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(tokenStr, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh checks signature, algorithm, expiry, and issuer of a
// refresh token.
func (c *Codec) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(tokenStr, claims, false); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.Family == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (c *Codec) verify(tokenStr string, claims jwt.Claims, requireAudience bool) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if requireAudience && c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
			return nil, ErrTokenInvalid
		}
		return c.config.PublicKey, nil
	})
	if err != nil || !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
