package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/harrylevesque/erpportal/internal/crypto"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/logging"
)

var (
	// ErrSessionNotFound is returned when the request carries no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the ERP token has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is returned for sessions ended server side.
	ErrSessionRevoked = errors.New("session revoked")
)

const (
	DefaultCookieName = "portal_session"

	keySessionID = "sid"
	keyToken     = "token"
	keyUserID    = "user_id"
	keyName      = "name"
	keyEmail     = "email"
	keyRole      = "role"
	keyIssuedAt  = "issued_at"

	bearerPrefix = "bearer-"
)

// Session is the authenticated context handed to request handlers.
type Session struct {
	ID       string
	Token    string
	Profile  erp.Profile
	IssuedAt time.Time
	// ExpiresAt is the token's exp claim, zero when unknown.
	ExpiresAt time.Time
	// Bearer is set for API clients that sent an Authorization header.
	Bearer bool
}

type Options struct {
	CookieName string
	// Secret signs and encrypts the cookie. Empty means a random per-process
	// secret, so sessions do not survive a restart.
	Secret string
	MaxAge time.Duration
	Secure bool
	Logger *slog.Logger
}

// Manager keeps the token and minimal profile in a signed, encrypted cookie.
type Manager struct {
	store  sessions.Store
	name   string
	maxAge time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
	onEnd   func(sessionID string)
}

func NewManager(opts Options) (*Manager, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	master := crypto.MustRandom(crypto.KeySize)
	if opts.Secret != "" {
		sum := sha256.Sum256([]byte(opts.Secret))
		master = sum[:]
	} else {
		log.Warn("no session secret configured, sessions end on restart")
	}
	hashKey, err := crypto.DeriveKey(master, "session-cookie-hash")
	if err != nil {
		return nil, fmt.Errorf("derive session hash key: %w", err)
	}
	blockKey, err := crypto.DeriveKey(master, "session-cookie-block")
	if err != nil {
		return nil, fmt.Errorf("derive session block key: %w", err)
	}
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	return &Manager{
		store:   store,
		name:    name,
		maxAge:  opts.MaxAge,
		log:     log,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}, nil
}

// Login starts a session for token and profile and writes the cookie.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, token string, profile erp.Profile) (*Session, error) {
	if token == "" {
		return nil, errors.New("login: empty token")
	}
	// New returns a usable session even when an old cookie fails to decode.
	sess, _ := m.store.New(r, m.name)
	s := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		Profile:   profile,
		IssuedAt:  m.now().UTC(),
		ExpiresAt: TokenExpiry(token),
	}
	sess.Values[keySessionID] = s.ID
	sess.Values[keyToken] = token
	sess.Values[keyUserID] = profile.UserID
	sess.Values[keyName] = profile.Name
	sess.Values[keyEmail] = profile.Email
	sess.Values[keyRole] = profile.Role
	sess.Values[keyIssuedAt] = s.IssuedAt.Unix()
	if err := m.store.Save(r, w, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.log.Info("session started", "session", s.ID, "user", profile.UserID)
	return s, nil
}

// Logout clears the cookie and revokes the session it carried, returning its id.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, _ := m.store.Get(r, m.name)
	id, _ := sess.Values[keySessionID].(string)
	if id != "" {
		m.Revoke(id)
	}
	m.clear(w, r)
	return id, nil
}

func (m *Manager) clear(w http.ResponseWriter, r *http.Request) {
	sess, _ := m.store.New(r, m.name)
	sess.Values = map[interface{}]interface{}{}
	sess.Options = &sessions.Options{Path: "/", MaxAge: -1, HttpOnly: true}
	if err := m.store.Save(r, w, sess); err != nil {
		m.log.Error("clear session cookie", "error", err)
	}
}

// Current returns the request's session. Bearer requests are accepted for
// API clients; everything else needs the cookie.
func (m *Manager) Current(r *http.Request) (*Session, error) {
	if token := ExtractTokenFromHeader(r); token != "" {
		s := &Session{ID: bearerSessionID(token), Token: token, ExpiresAt: TokenExpiry(token), Bearer: true}
		if m.expired(s) {
			m.ended(s.ID)
			return nil, ErrSessionExpired
		}
		return s, nil
	}

	sess, err := m.store.Get(r, m.name)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	id, _ := sess.Values[keySessionID].(string)
	token, _ := sess.Values[keyToken].(string)
	if id == "" || token == "" {
		return nil, ErrSessionNotFound
	}
	if m.isRevoked(id) {
		return nil, ErrSessionRevoked
	}
	s := &Session{ID: id, Token: token, ExpiresAt: TokenExpiry(token)}
	s.Profile.UserID, _ = sess.Values[keyUserID].(string)
	s.Profile.Name, _ = sess.Values[keyName].(string)
	s.Profile.Email, _ = sess.Values[keyEmail].(string)
	s.Profile.Role, _ = sess.Values[keyRole].(string)
	if issued, ok := sess.Values[keyIssuedAt].(int64); ok {
		s.IssuedAt = time.Unix(issued, 0).UTC()
	}
	if m.expired(s) {
		m.ended(s.ID)
		return nil, ErrSessionExpired
	}
	return s, nil
}

func (m *Manager) expired(s *Session) bool {
	return !s.ExpiresAt.IsZero() && !m.now().Before(s.ExpiresAt)
}

// OnSessionEnd registers fn to run whenever a session is revoked or found
// expired. fn is called without the manager lock held.
func (m *Manager) OnSessionEnd(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

func (m *Manager) ended(sessionID string) {
	m.mu.Lock()
	fn := m.onEnd
	m.mu.Unlock()
	if fn != nil {
		fn(sessionID)
	}
}

// Revoke ends sessionID server side. The cookie stays until the browser
// next hits a page, which then clears it.
func (m *Manager) Revoke(sessionID string) {
	if sessionID == "" || strings.HasPrefix(sessionID, bearerPrefix) {
		return
	}
	m.revoke(sessionID)
	m.ended(sessionID)
}

func (m *Manager) revoke(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.revoked[sessionID] = now
	// Cookies older than maxAge are rejected by the store anyway.
	if m.maxAge > 0 {
		for id, at := range m.revoked {
			if now.Sub(at) > m.maxAge {
				delete(m.revoked, id)
			}
		}
	}
	m.log.Info("session revoked", "session", sessionID)
}

func (m *Manager) isRevoked(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[sessionID]
	return ok
}

// ExtractTokenFromHeader extracts the token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// TokenExpiry reads the exp claim of a JWT without verifying it. The portal
// cannot verify ERP signatures; the ERP does that on every request.
func TokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func bearerSessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return bearerPrefix + hex.EncodeToString(sum[:8])
}
