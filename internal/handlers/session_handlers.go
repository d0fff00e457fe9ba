package handlers

import (
	"net/http"
	"time"

	"github.com/golang/glog"

	"slidecollab/internal/session"
)

// SessionHandler handles nickname login and logout
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
	}
}

// LoginRequest represents a nickname login
type LoginRequest struct {
	Username string `json:"username"`
}

// SessionResponse describes an active session
type SessionResponse struct {
	Success   bool      `json:"success"`
	Username  string    `json:"username"`
	Token     string    `json:"token,omitempty"`
	CSRFToken string    `json:"csrfToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login issues an identity token for a nickname
// POST /api/session
func (sh *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	token, identity, err := sh.sessions.Issue(req.Username)
	if err != nil {
		respondError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  identity.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	glog.Infof("User logged in: %s", identity.Username)

	respondJSON(w, http.StatusOK, SessionResponse{
		Success:   true,
		Username:  identity.Username,
		Token:     token,
		CSRFToken: identity.XSRF,
		ExpiresAt: identity.ExpiresAt,
	})
}

// Current describes the caller's session
// GET /api/session
func (sh *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	identity := session.FromContext(r.Context())
	respondJSON(w, http.StatusOK, SessionResponse{
		Success:   true,
		Username:  identity.Username,
		CSRFToken: identity.XSRF,
		ExpiresAt: identity.ExpiresAt,
	})
}

// Logout clears the session cookie
// DELETE /api/session
func (sh *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, Response{Success: true})
}
