// Package http provides the gpodder-compatible HTTP API: authentication,
// device management, and subscription/episode synchronization.
package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/service"
)

// CookieName carries the session token, per the gpodder auth reference.
const CookieName = "sessionid"

const sessionMaxAge = 14 * 24 * time.Hour

// AuthHandler handles login and logout requests.
type AuthHandler struct {
	// Sync authenticates sessions and issues handles.
	Sync *service.SyncService
	// Secure marks the session cookie HTTPS-only.
	Secure bool
	Log    *zap.Logger
}

// Login handles POST /api/2/auth/{username}/login.json.
// Credentials come from the Basic authorization header, whose username
// must equal the path username. A sessionid cookie, when present, is
// reconciled against the account's stored token; the (re)validated token
// is set as the response cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, pass, ok := r.BasicAuth()
	if !ok {
		h.Log.Debug("login without basic auth", zap.String("username", username))
		writeError(w, service.ErrUnauthorized)
		return
	}
	if user != username {
		h.Log.Debug("basic auth user does not match path",
			zap.String("path", username), zap.String("header", user))
		writeError(w, service.ErrUnauthorized)
		return
	}

	clientToken, err := cookieToken(r)
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.Sync.Login(r.Context(), user, pass, clientToken)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    session.Token(),
		Path:     "/api",
		MaxAge:   int(sessionMaxAge.Seconds()),
		Secure:   h.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusOK)
}

// Logout handles POST /api/2/auth/{username}/logout.json. Clears the
// account's stored token; idempotent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := scoped.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// cookieToken extracts and normalizes the session token cookie; nil when
// absent.
func cookieToken(r *http.Request) (*string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, nil
	}
	token, err := service.ParseSessionToken(cookie.Value)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// authorize resolves a request to a session scoped to username: the
// sessionid cookie first, falling back to Basic credentials (which go
// through the full login reconciliation).
func authorize(r *http.Request, svc *service.SyncService, username string) (*service.ScopedSession, error) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		token, err := service.ParseSessionToken(cookie.Value)
		if err != nil {
			return nil, err
		}
		session, err := svc.Authenticate(r.Context(), token)
		if err != nil {
			return nil, err
		}
		return session.WithUser(username)
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != username {
		return nil, service.ErrUnauthorized
	}
	session, err := svc.Login(r.Context(), user, pass, nil)
	if err != nil {
		return nil, err
	}
	return session.WithUser(username)
}

// splitFormatJSON strips the mandatory ".json" suffix from a path
// component such as "bob.json" or "phone.json".
func splitFormatJSON(s string) (string, error) {
	name, format, found := strings.Cut(s, ".")
	if !found || name == "" {
		return "", service.ErrBadRequest
	}
	if format != "json" {
		return "", service.ErrBadRequest
	}
	return name, nil
}

// writeError maps service errors onto HTTP statuses. Anything outside the
// taxonomy is treated as internal.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, service.ErrBadRequest):
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
