package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldline/authd/internal/ratelimit"
	"github.com/fieldline/authd/internal/token"
)

// HealthPath is exempt from admission control.
const HealthPath = "/healthz"

// NewRouter wires gin routes and middleware. Control flow per request:
// admission controller, then the identity gate, then the handler.
func NewRouter(handler *AuthHandler, codec *token.Codec, limiter *ratelimit.Limiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	if limiter != nil {
		r.Use(ratelimit.Middleware(limiter, HealthPath))
	}
	r.Use(IdentityGate(codec, logger))

	auth := r.Group("/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/logout", handler.Logout)
		auth.POST("/logout-all", handler.LogoutAll)
		auth.GET("/me", handler.Me)
		auth.POST("/verify-email", handler.VerifyEmail)
		auth.POST("/change-password", handler.ChangePassword)
	}

	r.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// RequestLogger logs one line per completed request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
