package httpapi_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldline/authd/internal/httpapi"
	"github.com/fieldline/authd/internal/password"
	"github.com/fieldline/authd/internal/ratelimit"
	"github.com/fieldline/authd/internal/service"
	"github.com/fieldline/authd/internal/store"
	"github.com/fieldline/authd/internal/token"
)

func newTestRouter(t *testing.T, limiter *ratelimit.Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	codec, err := token.NewCodec(token.Config{
		PrivateKey: priv,
		PublicKey:  pub,
		Issuer:     "authd-test",
		Audience:   "authd-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	hasher, err := password.NewHasher(password.Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	require.NoError(t, err)

	sessions := service.NewManager(store.New(rdb, "authd-test", time.Hour), codec, hasher, zap.NewNop())
	handler := httpapi.NewAuthHandler(sessions, httpapi.CookieConfig{
		AccessMaxAge:  15 * time.Minute,
		RefreshMaxAge: 30 * 24 * time.Hour,
	}, zap.NewNop())

	return httpapi.NewRouter(handler, codec, limiter, zap.NewNop())
}

func doJSON(r *gin.Engine, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func cookieByName(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestRegisterLoginRefreshMeFlow(t *testing.T) {
	r := newTestRouter(t, nil)

	// Register sets both cookies and returns the user.
	w := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email":    "alice@example.com",
		"password": "long enough password",
		"fullName": "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	access := cookieByName(t, w, httpapi.AccessCookie)
	refresh := cookieByName(t, w, httpapi.RefreshCookie)
	require.True(t, access.HttpOnly)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, "/", access.Path)
	require.Equal(t, "/auth", refresh.Path)

	// Login issues a fresh pair.
	w = doJSON(r, http.MethodPost, "/auth/login", gin.H{
		"email":    "alice@example.com",
		"password": "long enough password",
	})
	require.Equal(t, http.StatusOK, w.Code)
	access = cookieByName(t, w, httpapi.AccessCookie)
	refresh = cookieByName(t, w, httpapi.RefreshCookie)

	// /me resolves the identity from the access cookie.
	w = doJSON(r, http.MethodGet, "/auth/me", nil, access)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, "alice@example.com", me.User.Email)
	require.Equal(t, "user", me.Role)

	// Refresh rotates both cookies.
	w = doJSON(r, http.MethodPost, "/auth/refresh", nil, refresh)
	require.Equal(t, http.StatusOK, w.Code)
	newAccess := cookieByName(t, w, httpapi.AccessCookie)
	newRefresh := cookieByName(t, w, httpapi.RefreshCookie)
	require.NotEqual(t, refresh.Value, newRefresh.Value)

	// The new access token works.
	w = doJSON(r, http.MethodGet, "/auth/me", nil, newAccess)
	require.Equal(t, http.StatusOK, w.Code)

	// The old, pre-refresh access token is stateless and still valid
	// until its own expiry: rotation revokes refresh tokens only.
	w = doJSON(r, http.MethodGet, "/auth/me", nil, access)
	require.Equal(t, http.StatusOK, w.Code)

	// The old refresh token is spent: redeeming it again is reuse.
	w = doJSON(r, http.MethodPost, "/auth/refresh", nil, refresh)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// And the cascade killed the new refresh token too.
	w = doJSON(r, http.MethodPost, "/auth/refresh", nil, newRefresh)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	r := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "alice@example.com", "password": "long enough password",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "Alice@example.com", "password": "long enough password",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "bad", "password": "long enough password",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "ok@example.com", "password": "tiny",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginFailureShapeIsUniform(t *testing.T) {
	r := newTestRouter(t, nil)

	doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "alice@example.com", "password": "long enough password",
	})

	unknown := doJSON(r, http.MethodPost, "/auth/login", gin.H{
		"email": "nobody@example.com", "password": "long enough password",
	})
	wrong := doJSON(r, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "totally wrong password",
	})

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.JSONEq(t, unknown.Body.String(), wrong.Body.String(),
		"unknown email and wrong password must produce identical responses")
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	r := newTestRouter(t, nil)

	// No cookie at all.
	w := doJSON(r, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Garbage cookie.
	w = doJSON(r, http.MethodPost, "/auth/logout", nil,
		&http.Cookie{Name: httpapi.RefreshCookie, Value: "garbage"})
	require.Equal(t, http.StatusOK, w.Code)

	// Valid cookie: revokes and clears.
	reg := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "alice@example.com", "password": "long enough password",
	})
	refresh := cookieByName(t, reg, httpapi.RefreshCookie)

	w = doJSON(r, http.MethodPost, "/auth/logout", nil, refresh)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := cookieByName(t, w, httpapi.RefreshCookie)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)

	// The revoked token cannot be redeemed afterwards.
	w = doJSON(r, http.MethodPost, "/auth/refresh", nil, refresh)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireIdentity(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/auth/logout-all"},
		{http.MethodPost, "/auth/verify-email"},
	} {
		w := doJSON(r, route.method, route.path, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}

	// An expired or malformed access cookie behaves like no cookie.
	w := doJSON(r, http.MethodGet, "/auth/me", nil,
		&http.Cookie{Name: httpapi.AccessCookie, Value: "malformed"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	r := newTestRouter(t, nil)

	reg := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "alice@example.com", "password": "long enough password",
	})
	firstRefresh := cookieByName(t, reg, httpapi.RefreshCookie)

	login := doJSON(r, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "long enough password",
	})
	access := cookieByName(t, login, httpapi.AccessCookie)
	secondRefresh := cookieByName(t, login, httpapi.RefreshCookie)

	w := doJSON(r, http.MethodPost, "/auth/logout-all", nil, access)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/refresh", nil, firstRefresh)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(r, http.MethodPost, "/auth/refresh", nil, secondRefresh)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmissionControllerDeniesWith429(t *testing.T) {
	table := ratelimit.NewTable(3)
	limiter := ratelimit.NewLimiter(table, ratelimit.Config{}, zap.NewNop())
	r := newTestRouter(t, limiter)

	denied := false
	var last *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		last = doJSON(r, http.MethodGet, "/auth/me", nil)
		if last.Code == http.StatusTooManyRequests {
			denied = true
			break
		}
	}
	require.True(t, denied, "burst over the budget must be denied")

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	require.Equal(t, "rate_limited", body.Error)
	require.Equal(t, 1, body.RetryAfter)
	require.NotEmpty(t, body.Message)

	// Health stays reachable regardless of the budget.
	w := doJSON(r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
