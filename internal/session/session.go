package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"slidecollab/internal/models"
)

const CookieName = "slidecollab_session"
const CSRFHeader = "X-CSRF-Token"

// Identity is the explicit caller identity passed into permission checks,
// broadcasts and saves. Nicknames are trusted on first use.
type Identity struct {
	Username  string
	XSRF      string
	ExpiresAt time.Time
}

type claims struct {
	XSRF string `json:"xsrf"`
	gojwt.RegisteredClaims
}

// Manager issues and verifies signed nickname tokens
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a manager signing with secret. Tokens live for ttl.
func NewManager(secret []byte, ttl time.Duration) *Manager {
	return &Manager{
		secret: secret,
		ttl:    ttl,
	}
}

// Issue creates a token for username, which must not be blank
func (m *Manager) Issue(username string) (string, *Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", nil, models.ErrInvalidName
	}

	now := time.Now()
	identity := &Identity{
		Username:  username,
		XSRF:      uuid.NewString(),
		ExpiresAt: now.Add(m.ttl),
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims{
		XSRF: identity.XSRF,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(identity.ExpiresAt),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, identity, nil
}

// Parse verifies a token and returns its identity
func (m *Manager) Parse(token string) (*Identity, error) {
	var c claims
	_, err := gojwt.ParseWithClaims(token, &c, func(*gojwt.Token) (any, error) {
		return m.secret, nil
	}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return nil, models.ErrUnauthenticated
	}

	identity := &Identity{
		Username: c.Subject,
		XSRF:     c.XSRF,
	}
	if c.ExpiresAt != nil {
		identity.ExpiresAt = c.ExpiresAt.Time
	}
	return identity, nil
}

// ExtractToken finds the token in the Authorization header, the session
// cookie, or the access_token query parameter (websocket clients)
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("access_token")
}

// FromRequest resolves the identity of a request. A request without a token
// fails with models.ErrUnauthenticated.
func (m *Manager) FromRequest(r *http.Request) (*Identity, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, models.ErrUnauthenticated
	}
	return m.Parse(token)
}

// CheckXSRF verifies the anti-forgery header of a mutating request
func CheckXSRF(r *http.Request, identity *Identity) error {
	header := r.Header.Get(CSRFHeader)
	if header == "" || identity == nil || identity.XSRF == "" {
		return errors.New("missing anti-forgery token")
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(identity.XSRF)) != 1 {
		return errors.New("invalid anti-forgery token")
	}
	return nil
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches identity to ctx
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the identity attached by WithIdentity, or nil
func FromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityKey).(*Identity); ok {
		return identity
	}
	return nil
}

// Name returns the identity's username, empty for a nil identity
func (i *Identity) Name() string {
	if i == nil {
		return ""
	}
	return i.Username
}
