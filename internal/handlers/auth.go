package handlers

import (
	"net/http"

	"github.com/golang/glog"

	"slidecollab/internal/models"
	"slidecollab/internal/session"
)

// Auth resolves the caller identity of requests
type Auth struct {
	sessions *session.Manager
}

// NewAuth creates the request authenticator
func NewAuth(sessions *session.Manager) *Auth {
	return &Auth{
		sessions: sessions,
	}
}

// RequireIdentity rejects requests without a valid identity token and puts
// the identity in the request context
func (a *Auth) RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.sessions.FromRequest(r)
		if err != nil {
			respondError(w, err)
			return
		}
		next(w, r.WithContext(session.WithIdentity(r.Context(), identity)))
	}
}

// RequireMutation is RequireIdentity plus the anti-forgery header check
func (a *Auth) RequireMutation(next http.HandlerFunc) http.HandlerFunc {
	return a.RequireIdentity(func(w http.ResponseWriter, r *http.Request) {
		if err := session.CheckXSRF(r, session.FromContext(r.Context())); err != nil {
			glog.Infof("Rejected %s %s: %v", r.Method, r.URL.Path, err)
			respondJSON(w, http.StatusForbidden, Response{
				Success: false,
				Message: "Invalid anti-forgery token",
			})
			return
		}
		next(w, r)
	})
}

// OptionalIdentity returns the caller identity, or nil for anonymous callers
func (a *Auth) OptionalIdentity(r *http.Request) *session.Identity {
	identity, err := a.sessions.FromRequest(r)
	if err != nil {
		if err != models.ErrUnauthenticated {
			glog.V(1).Infof("Ignoring invalid identity token: %v", err)
		}
		return nil
	}
	return identity
}
