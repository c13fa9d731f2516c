package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"idgate.org/internal/crypt"
	"idgate.org/internal/identity"
	"idgate.org/internal/session"
	"idgate.org/internal/token"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "session_token"
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the presented token to a live session on every protected
// request, applies the idle timeout, and attaches the session and its
// identity to the request context. Nothing downstream re-resolves the token.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path, r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		presented, err := extractToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		sess, err := a.sessions.Resolve(r.Context(), presented)
		if err != nil {
			a.clearSessionCookie(w)
			switch {
			case errors.Is(err, crypt.ErrIntegrity), errors.Is(err, token.ErrInvalidSignature):
				// Already logged as a security event by the resolver.
				writeError(w, r, http.StatusUnauthorized, "invalid session")
			case errors.Is(err, session.ErrNotFound), errors.Is(err, token.ErrMalformed):
				writeError(w, r, http.StatusUnauthorized, "invalid session")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		if err := a.sessions.ApplyIdleTimeout(r.Context(), sess, a.idleLimit); err != nil {
			if errors.Is(err, session.ErrIdleExpired) {
				a.clearSessionCookie(w)
				writeError(w, r, http.StatusUnauthorized, "session expired")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ident, err := a.resolveIdentity(r, sess)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := session.ContextWithSession(r.Context(), sess)
		if ident != nil {
			ctx = identity.ContextWithIdentity(ctx, ident)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveIdentity recovers the principal behind a session: the decrypted
// payload snapshot for remote sessions, the user row for local ones.
func (a *API) resolveIdentity(r *http.Request, sess *session.Session) (identity.Identity, error) {
	if len(sess.PayloadCiphertext) > 0 {
		snap, err := a.sessions.Snapshot(sess)
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
	if a.users == nil {
		return nil, nil
	}
	u, err := a.users.Find(r.Context(), sess.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func extractToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return "", errors.New("missing credentials")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	presented := strings.TrimSpace(header[len(bearer):])
	if presented == "" {
		return "", errors.New("missing credentials")
	}
	return presented, nil
}

func isPublicPath(path, method string) bool {
	// Sign-in is the one unauthenticated session operation.
	if path == "/v1/sessions" && method == http.MethodPost {
		return true
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
