package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldline/authd/internal/domain"
	"github.com/fieldline/authd/internal/service"
)

// CookieConfig controls how the token pair is delivered to clients.
type CookieConfig struct {
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
	// RefreshPath scopes the refresh cookie to the auth endpoints so it
	// is not replayed on every business request.
	RefreshPath string
	Secure      bool
}

// AuthHandler serves the /auth endpoint group.
type AuthHandler struct {
	sessions *service.Manager
	cookies  CookieConfig
	logger   *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(sessions *service.Manager, cookies CookieConfig, logger *zap.Logger) *AuthHandler {
	if cookies.RefreshPath == "" {
		cookies.RefreshPath = "/auth"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{sessions: sessions, cookies: cookies, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
}

// Register creates a principal and signs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ErrInvalidInput)
		return
	}

	p, err := h.sessions.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		respondError(c, err)
		return
	}

	pair, err := h.sessions.IssueTokenPair(c.Request.Context(), p, tokenContext(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": userJSON(p)})
}

// Login verifies credentials and issues a fresh token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ErrInvalidCredentials)
		return
	}

	p, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	pair, err := h.sessions.IssueTokenPair(c.Request.Context(), p, tokenContext(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": userJSON(p)})
}

// Refresh rotates the presented refresh token and both cookies.
func (h *AuthHandler) Refresh(c *gin.Context) {
	presented, err := c.Cookie(RefreshCookie)
	if err != nil || presented == "" {
		respondError(c, domain.ErrInvalidRefreshToken)
		return
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), presented, tokenContext(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logout revokes the presented refresh token, best effort, and clears
// both cookies. It never fails.
func (h *AuthHandler) Logout(c *gin.Context) {
	if presented, err := c.Cookie(RefreshCookie); err == nil {
		h.sessions.Logout(c.Request.Context(), presented)
	}
	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LogoutAll revokes every refresh record for the authenticated
// principal, regardless of which token initiated the call.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	id, ok := IdentityFrom(c)
	if !ok {
		respondError(c, domain.ErrUnauthenticated)
		return
	}

	revoked, err := h.sessions.LogoutAll(c.Request.Context(), id.PrincipalID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionsRevoked": revoked})
}

// Me returns the authenticated principal.
func (h *AuthHandler) Me(c *gin.Context) {
	id, ok := IdentityFrom(c)
	if !ok {
		respondError(c, domain.ErrUnauthenticated)
		return
	}

	p, err := h.sessions.Principal(c.Request.Context(), id.PrincipalID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userJSON(p), "role": p.Role})
}

// VerifyEmail marks the authenticated principal's email verified.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	id, ok := IdentityFrom(c)
	if !ok {
		respondError(c, domain.ErrUnauthenticated)
		return
	}

	if err := h.sessions.VerifyEmail(c.Request.Context(), id.PrincipalID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ChangePassword swaps the credential hash and revokes all sessions.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	id, ok := IdentityFrom(c)
	if !ok {
		respondError(c, domain.ErrUnauthenticated)
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ErrInvalidInput)
		return
	}

	if err := h.sessions.ChangePassword(c.Request.Context(), id.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}

	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, pair service.TokenPair) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, pair.AccessToken, int(h.cookies.AccessMaxAge.Seconds()), "/", "", h.cookies.Secure, true)
	c.SetCookie(RefreshCookie, pair.RefreshToken, int(h.cookies.RefreshMaxAge.Seconds()), h.cookies.RefreshPath, "", h.cookies.Secure, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", "", h.cookies.Secure, true)
	c.SetCookie(RefreshCookie, "", -1, h.cookies.RefreshPath, "", h.cookies.Secure, true)
}

func tokenContext(c *gin.Context) domain.TokenContext {
	return domain.TokenContext{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
	}
}

func userJSON(p *domain.Principal) gin.H {
	return gin.H{
		"id":            p.ID,
		"email":         p.Email,
		"fullName":      p.FullName,
		"role":          p.Role,
		"emailVerified": p.EmailVerified,
	}
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "Something went wrong."

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "invalid_input", "Malformed email or password too short."
	case errors.Is(err, domain.ErrDuplicateIdentity):
		status, code, message = http.StatusConflict, "duplicate_identity", "An account with this email already exists."
	case errors.Is(err, domain.ErrInvalidCredentials):
		status, code, message = http.StatusUnauthorized, "invalid_credentials", "Invalid credentials."
	case errors.Is(err, domain.ErrInvalidRefreshToken):
		status, code, message = http.StatusUnauthorized, "invalid_refresh_token", "Refresh token missing or invalid."
	case errors.Is(err, domain.ErrRefreshTokenRevoked):
		status, code, message = http.StatusUnauthorized, "refresh_token_revoked", "Refresh token is no longer valid."
	case errors.Is(err, domain.ErrUnauthenticated):
		status, code, message = http.StatusUnauthorized, "unauthenticated", "Authentication required."
	case errors.Is(err, domain.ErrPrincipalNotFound):
		status, code, message = http.StatusUnauthorized, "unauthenticated", "Authentication required."
	}

	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
