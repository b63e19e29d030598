// Package httpapi is the HTTP boundary: cookie-based auth endpoints,
// the identity-resolving gate, and the router.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldline/authd/internal/token"
)

// AccessCookie and RefreshCookie are the cookie names carrying the
// token pair.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

const identityKey = "authd.identity"

// Identity is the resolved caller attached to the request context by
// the gate. Anonymous requests carry no identity at all.
type Identity struct {
	PrincipalID string
	Email       string
	Role        string
	Scopes      []string
}

// IdentityGate extracts the access token from its cookie, verifies it,
// and attaches the resolved identity. It never blocks the request:
// missing, malformed, and expired tokens all pass through anonymously,
// logged at debug level. Authorization is the downstream consumer's
// decision.
func IdentityGate(codec *token.Codec, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		raw, err := c.Cookie(AccessCookie)
		if err != nil || raw == "" {
			c.Next()
			return
		}

		claims, err := codec.VerifyAccess(raw)
		if err != nil {
			logger.Debug("unverifiable access token", zap.String("path", c.Request.URL.Path))
			c.Next()
			return
		}

		c.Set(identityKey, &Identity{
			PrincipalID: claims.Subject,
			Email:       claims.Email,
			Role:        claims.Role,
			Scopes:      claims.Scopes,
		})
		c.Next()
	}
}

// IdentityFrom returns the resolved identity for the request, if any.
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := value.(*Identity)
	return id, ok
}
