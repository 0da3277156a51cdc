package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/erpportal/internal/erp"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{Secret: testSecret, MaxAge: time.Hour})
	require.NoError(t, err)
	return m
}

func jwtWithExp(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": exp.Unix(),
	}).SignedString([]byte("erp-signing-key"))
	require.NoError(t, err)
	return tok
}

// login runs Login and returns the cookies a browser would send back.
func login(t *testing.T, m *Manager, token string) (*Session, []*http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	s, err := m.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), token, erp.Profile{UserID: "42", Name: "Ana", Role: "customer"})
	require.NoError(t, err)
	return s, rec.Result().Cookies()
}

func withCookies(req *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestLoginThenCurrent(t *testing.T) {
	m := newManager(t)
	s, cookies := login(t, m, "opaque-token")
	require.NotEmpty(t, cookies)
	assert.True(t, cookies[0].HttpOnly)

	got, err := m.Current(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "opaque-token", got.Token)
	assert.Equal(t, "Ana", got.Profile.Name)
	assert.Equal(t, "customer", got.Profile.Role)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.False(t, got.Bearer)
}

func TestCurrentWithoutCookie(t *testing.T) {
	m := newManager(t)
	_, err := m.Current(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCookieFromOtherSecretIsRejected(t *testing.T) {
	_, cookies := login(t, newManager(t), "tok")
	other, err := NewManager(Options{Secret: "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)
	_, err = other.Current(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokedSession(t *testing.T) {
	m := newManager(t)
	s, cookies := login(t, m, "tok")
	m.Revoke(s.ID)
	_, err := m.Current(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestExpiredJWT(t *testing.T) {
	m := newManager(t)
	_, cookies := login(t, m, jwtWithExp(t, time.Now().Add(-time.Minute)))
	_, err := m.Current(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, cookies = login(t, m, jwtWithExp(t, time.Now().Add(time.Hour)))
	s, err := m.Current(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	require.NoError(t, err)
	assert.False(t, s.ExpiresAt.IsZero())
}

func TestLogoutRevokes(t *testing.T) {
	m := newManager(t)
	s, cookies := login(t, m, "tok")
	rec := httptest.NewRecorder()
	id, err := m.Logout(rec, withCookies(httptest.NewRequest(http.MethodPost, "/logout", nil), cookies))
	require.NoError(t, err)
	assert.Equal(t, s.ID, id)

	cleared := rec.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Less(t, cleared[0].MaxAge, 0)

	_, err = m.Current(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestBearerHeader(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc":  "abc",
		"BEARER  abc": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, ExtractTokenFromHeader(req), header)
	}
}

func TestBearerSession(t *testing.T) {
	m := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer api-token")
	s, err := m.Current(req)
	require.NoError(t, err)
	assert.True(t, s.Bearer)
	assert.Equal(t, "api-token", s.Token)

	again, err := m.Current(req)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID, "bearer sessions are stable per token")

	req.Header.Set("Authorization", "Bearer "+jwtWithExp(t, time.Now().Add(-time.Second)))
	_, err = m.Current(req)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	assert.True(t, TokenExpiry(jwtWithExp(t, exp)).Equal(exp))
	assert.True(t, TokenExpiry("not-a-jwt").IsZero())
}

func TestMiddleware(t *testing.T) {
	m := newManager(t)
	var seen *Session
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/viewer/x", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/viewer/x", nil)
	req.Header.Set("HX-Request", "true")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("HX-Redirect"))

	s, cookies := login(t, m, "tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/viewer/x", nil), cookies))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, s.ID, seen.ID)

	seen = nil
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/viewer/x", nil)
	req.Header.Set("Authorization", "Bearer api-token")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.True(t, seen.Bearer)
	assert.Equal(t, "api-token", seen.Token)
}

func TestMiddlewareClearsRevokedCookie(t *testing.T) {
	m := newManager(t)
	s, cookies := login(t, m, "tok")
	m.Revoke(s.ID)
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	assert.Equal(t, http.StatusFound, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())
	assert.Less(t, rec.Result().Cookies()[0].MaxAge, 0)
}

func TestSessionEndHook(t *testing.T) {
	m := newManager(t)
	var ended []string
	m.OnSessionEnd(func(id string) { ended = append(ended, id) })

	s, _ := login(t, m, "tok")
	m.Revoke(s.ID)
	assert.Equal(t, []string{s.ID}, ended)

	m.Revoke(bearerSessionID("api"))
	assert.Len(t, ended, 1, "bearer ids are not revocable")

	ended = nil
	exp := time.Now().Add(time.Minute)
	s, cookies := login(t, m, jwtWithExp(t, exp))
	m.now = func() time.Time { return exp.Add(time.Second) }
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	h.ServeHTTP(httptest.NewRecorder(), withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
	assert.Equal(t, []string{s.ID}, ended)

	ended = nil
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer := jwtWithExp(t, exp)
	req.Header.Set("Authorization", "Bearer "+bearer)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, []string{bearerSessionID(bearer)}, ended)
}
