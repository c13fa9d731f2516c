package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
)

const (
	apiKeyHeader       = "X-Api-Key"
	defaultCallTimeout = 10 * time.Second
)

// Remote delegates credential verification to the external authority. The
// credential pair travels as an encrypted blob; a positive answer is followed
// by a second fetch for the full identity payload, and the local mirror is
// synchronized as a side effect.
type Remote struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
	mirrors identity.MirrorStore
	timeout time.Duration
}

// RemoteOption configures the remote gateway.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.client = c
		}
	}
}

// WithCallTimeout bounds each authority call. Credential verification fails
// closed on timeout; it never retries indefinitely.
func WithCallTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRemote builds the remote-delegated gateway.
func NewRemote(baseURL, apiKey, secret string, mirrors identity.MirrorStore, opts ...RemoteOption) (*Remote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway: authority base URL is required")
	}
	if apiKey == "" || secret == "" {
		return nil, fmt.Errorf("gateway: authority api key and secret are required")
	}
	r := &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		client:  &http.Client{Timeout: defaultCallTimeout},
		mirrors: mirrors,
		timeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type verifyResponse struct {
	Authenticated bool   `json:"authenticated"`
	ExternalID    string `json:"external_id"`
}

// Authenticate verifies the credentials with the authority. Transport
// failures, bad statuses, unparseable bodies, and missing fields all yield
// ErrAuthFailed — never a raw transport error — but are logged distinctly so
// operators can tell an outage from a wrong password.
func (r *Remote) Authenticate(ctx context.Context, creds Credentials) (identity.Identity, error) {
	blob, err := sealCredentials(creds, r.secret)
	if err != nil {
		return nil, fmt.Errorf("gateway: seal credentials: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var verified verifyResponse
	if err := r.postJSON(ctx, "/auth/authenticate", map[string]string{"credentials": blob}, &verified); err != nil {
		r.failTransport("authenticate", err)
		return nil, ErrAuthFailed
	}
	if !verified.Authenticated || verified.ExternalID == "" {
		obs.AuthAttempts.WithLabelValues("remote", "rejected").Inc()
		return nil, ErrAuthFailed
	}

	snap, err := r.fetchIdentity(ctx, verified.ExternalID)
	if err != nil {
		r.failTransport("fetch_identity", err)
		return nil, ErrAuthFailed
	}
	if !snap.Valid() {
		r.failTransport("fetch_identity", fmt.Errorf("payload missing required fields"))
		return nil, ErrAuthFailed
	}

	// Mirror synchronization, not an authorization decision: a sync failure
	// is logged but does not reject the sign-in.
	if r.mirrors != nil {
		if _, err := r.mirrors.Upsert(ctx, snap); err != nil {
			obs.LogSecurityEvent("gateway.mirror_sync_failed", map[string]any{
				"external_id": snap.ID,
				"error":       err.Error(),
			})
		}
	}

	obs.AuthAttempts.WithLabelValues("remote", "ok").Inc()
	return snap, nil
}

func (r *Remote) fetchIdentity(ctx context.Context, externalID string) (*identity.RemoteSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/users/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var snap identity.RemoteSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *Remote) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *Remote) failTransport(stage string, err error) {
	obs.AuthAttempts.WithLabelValues("remote", "transport_error").Inc()
	obs.LogSecurityEvent("gateway.authority_unreachable", map[string]any{
		"stage": stage,
		"error": err.Error(),
	})
}
