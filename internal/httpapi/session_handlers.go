package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"idgate.org/internal/audit"
	"idgate.org/internal/gateway"
	"idgate.org/internal/identity"
	"idgate.org/internal/session"
	"idgate.org/internal/throttle"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	Fingerprint string `json:"fingerprint"`
	DeviceInfo  string `json:"device_info"`
	OSInfo      string `json:"os_info"`
	Timezone    string `json:"timezone"`
}

type signInResponse struct {
	Token   string       `json:"token"`
	Session *sessionView `json:"session"`
}

// sessionView is the caller-visible projection of a session. Token material
// never appears here.
type sessionView struct {
	ID          string     `json:"id"`
	Current     bool       `json:"current"`
	DeviceInfo  string     `json:"device_info,omitempty"`
	OSInfo      string     `json:"os_info,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	IP          string     `json:"ip,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	SignedOutAt *time.Time `json:"signed_out_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func newSessionView(s *session.Session, currentID string, now time.Time) *sessionView {
	return &sessionView{
		ID:          s.ID,
		Current:     s.ID == currentID,
		DeviceInfo:  s.Client.DeviceInfo,
		OSInfo:      s.Client.OSInfo,
		Timezone:    s.Client.Timezone,
		IP:          s.Client.IP,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Active:      s.Active(now),
		CreatedAt:   s.CreatedAt,
		LastSeenAt:  s.LastSeenAt,
		SignedOutAt: s.SignedOutAt,
		ExpiresAt:   s.ExpiresAt,
	}
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleSignIn(w, r)
	case http.MethodGet:
		a.handleListSessions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleSessionScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	switch rest {
	case "current":
		a.handleSignOut(w, r)
	case "others":
		a.handleRevokeOthers(w, r)
	default:
		a.handleRevoke(w, r, rest)
	}
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if a.gateway == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sign-in unavailable")
		return
	}

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	ip := clientIP(r)
	if a.limiter != nil {
		if err := a.limiter.Allow(r.Context(), req.Email, ip); err != nil {
			if errors.Is(err, throttle.ErrLimited) {
				// Same shape as a credential rejection: no oracle for
				// attackers probing the budget.
				_ = audit.LogEvent(r.Context(), "session.signin.throttled", map[string]any{
					"ip": ip,
				})
				writeError(w, r, http.StatusUnauthorized, "authentication failed")
				return
			}
			// Redis being down must not lock everyone out.
			_ = audit.LogEvent(r.Context(), "session.signin.throttle_unavailable", nil)
		}
	}

	ident, err := a.gateway.Authenticate(r.Context(), gateway.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrAuthFailed) {
			_ = audit.LogEvent(r.Context(), "session.signin.rejected", map[string]any{
				"ip": ip,
			})
			writeError(w, r, http.StatusUnauthorized, "authentication failed")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	client := session.Client{
		Fingerprint: req.Fingerprint,
		DeviceInfo:  req.DeviceInfo,
		OSInfo:      req.OSInfo,
		Timezone:    req.Timezone,
		IP:          ip,
	}
	sess, raw, err := a.sessions.Create(r.Context(), ident, client, 0)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if a.limiter != nil {
		_ = a.limiter.Reset(r.Context(), req.Email, ip)
	}

	ctx := identity.ContextWithIdentity(r.Context(), ident)
	_ = audit.LogEvent(ctx, "session.created", map[string]any{
		"session_id": sess.ID,
		"ip":         ip,
	})

	a.setSessionCookie(w, raw, sess.ExpiresAt)
	// The raw token appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, signInResponse{
		Token:   raw,
		Session: newSessionView(sess, sess.ID, time.Now().UTC()),
	})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	current, ident, ok := a.requireSession(w, r)
	if !ok {
		return
	}

	sessions, err := a.sessions.ListByIdentity(r.Context(), current.IdentityID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now().UTC()
	views := make([]*sessionView, 0, len(sessions))
	for _, s := range sessions {
		v := newSessionView(s, current.ID, now)
		if a.evaluator != nil && ident != nil && !a.evaluator.IsAdmin(ident) {
			v.IP = ""
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	current, _, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	if err := a.sessions.SignOut(r.Context(), current); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "session.signed_out", map[string]any{
		"session_id": current.ID,
	})
	a.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request, sessionID string) {
	current, _, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	if err := a.sessions.Revoke(r.Context(), sessionID, current.IdentityID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "session.revoked", map[string]any{
		"session_id": sessionID,
	})
	if sessionID == current.ID {
		a.clearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	current, _, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	n, err := a.sessions.RevokeOthers(r.Context(), current.IdentityID, current.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "session.revoked_others", map[string]any{
		"kept_session_id": current.ID,
		"revoked":         n,
	})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// requireSession pulls the session resolved by the authn middleware off the
// context.
func (a *API) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, identity.Identity, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, nil, false
	}
	ident, _ := identity.FromContext(r.Context())
	return sess, ident, true
}

func (a *API) setSessionCookie(w http.ResponseWriter, raw string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    raw,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
