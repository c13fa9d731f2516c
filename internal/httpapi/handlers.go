// Package httpapi is the HTTP surface over the session lifecycle: sign-in,
// sign-out, enumeration, and revocation, plus the usual health and metrics
// endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"idgate.org/internal/gateway"
	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/session"
	"idgate.org/internal/throttle"
)

// ReadyProbe checks backing stores for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators. Sessions and Gateway are required;
// the rest degrade gracefully when absent.
type Options struct {
	ReadyProbe ReadyProbe
	Version    string

	Sessions  *session.Service
	Gateway   gateway.Gateway
	Evaluator *identity.Evaluator
	Users     identity.UserStore
	Mirrors   identity.MirrorStore
	Limiter   *throttle.Limiter

	IdleLimit    time.Duration
	CookieSecure bool
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions  *session.Service
	gateway   gateway.Gateway
	evaluator *identity.Evaluator
	users     identity.UserStore
	mirrors   identity.MirrorStore
	limiter   *throttle.Limiter

	idleLimit    time.Duration
	cookieSecure bool

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// Per-IP defaults for the outer middleware; generous enough for normal
// clients while still blunting brute-force loops that slip past the
// per-account throttle.
const (
	defaultRateBurst    = 20
	defaultRatePerSec   = 10
	defaultMaxBodyBytes = 1 << 20
)

func New(opts Options) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   opts.ReadyProbe,
		version:      opts.Version,
		sessions:     opts.Sessions,
		gateway:      opts.Gateway,
		evaluator:    opts.Evaluator,
		users:        opts.Users,
		mirrors:      opts.Mirrors,
		limiter:      opts.Limiter,
		idleLimit:    opts.IdleLimit,
		cookieSecure: opts.CookieSecure,
		rateBurst:    defaultRateBurst,
		ratePerSec:   defaultRatePerSec,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	if a.evaluator == nil {
		a.evaluator = identity.NewEvaluator()
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session lifecycle
	a.mux.HandleFunc("/v1/sessions", a.handleSessions)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "idgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "idgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
