package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"idgate.org/internal/crypt"
	"idgate.org/internal/gateway"
	"idgate.org/internal/identity"
	"idgate.org/internal/session"
)

// memSessionStore is an in-memory session.Store with the same visibility
// semantics as the relational one.
type memSessionStore struct {
	mu   sync.Mutex
	rows map[string]*session.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{rows: make(map[string]*session.Session)}
}

func cloneSession(s *session.Session) *session.Session {
	c := *s
	if s.LastSeenAt != nil {
		t := *s.LastSeenAt
		c.LastSeenAt = &t
	}
	if s.SignedOutAt != nil {
		t := *s.SignedOutAt
		c.SignedOutAt = &t
	}
	return &c
}

func (m *memSessionStore) Insert(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = cloneSession(s)
	return nil
}

func (m *memSessionStore) FindByDigest(_ context.Context, digest string, now time.Time) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.TokenDigest == digest && s.Active(now) {
			return cloneSession(s), nil
		}
	}
	return nil, session.ErrNotFound
}

func (m *memSessionStore) FindByID(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *memSessionStore) ListByIdentity(_ context.Context, identityID string) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Session
	for _, s := range m.rows {
		if s.IdentityID == identityID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memSessionStore) Touch(_ context.Context, id string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		if s.LastSeenAt == nil || s.LastSeenAt.Before(ts) {
			s.LastSeenAt = &ts
		}
	}
	return nil
}

func (m *memSessionStore) Terminate(_ context.Context, id string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return session.ErrNotFound
	}
	s.SignedOutAt = &ts
	s.ExpiresAt = ts
	return nil
}

func (m *memSessionStore) TerminateOwned(_ context.Context, id, identityID string, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.IdentityID != identityID || s.SignedOutAt != nil {
		return 0, nil
	}
	s.SignedOutAt = &ts
	s.ExpiresAt = ts
	return 1, nil
}

func (m *memSessionStore) TerminateOthers(_ context.Context, identityID, keepID string, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.rows {
		if s.IdentityID == identityID && s.ID != keepID && s.SignedOutAt == nil {
			s.SignedOutAt = &ts
			s.ExpiresAt = ts
			n++
		}
	}
	return n, nil
}

func (m *memSessionStore) SetLocation(_ context.Context, id string, lat, lon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		s.Latitude = &lat
		s.Longitude = &lon
	}
	return nil
}

type memUserStore struct {
	byEmail map[string]*identity.User
	byID    map[string]*identity.User
}

func (s *memUserStore) Create(context.Context, *identity.User) error { return nil }

func (s *memUserStore) Find(_ context.Context, id string) (*identity.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*identity.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) UpdatePassword(context.Context, string, string) error       { return nil }
func (s *memUserStore) SetRole(context.Context, string, identity.AccessRole) error { return nil }
func (s *memUserStore) SetPretendNotAdmin(context.Context, string, bool) error     { return nil }
func (s *memUserStore) SetSessionDuration(context.Context, string, int) error      { return nil }

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) (*apiClient, *memSessionStore) {
	t.Helper()

	masterKey := bytes.Repeat([]byte{0x11}, crypt.KeySize)
	enc, err := crypt.NewEncryptor(masterKey)
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	index, err := crypt.NewBlindIndex(bytes.Repeat([]byte{0x22}, crypt.KeySize))
	if err != nil {
		t.Fatalf("blind index: %v", err)
	}
	field := crypt.NewEncryptedField(enc, index)

	store := newMemSessionStore()
	svc, err := session.NewService(store, field, enc)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	hash, err := identity.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	admin := &identity.User{
		ID:           "u-admin",
		FirstName:    "Ada",
		LastName:     "Admin",
		EmailAddress: "ada@example.com",
		PasswordHash: hash,
		Role:         identity.RoleAdmin,
	}
	users := &memUserStore{
		byEmail: map[string]*identity.User{admin.EmailAddress: admin},
		byID:    map[string]*identity.User{admin.ID: admin},
	}

	api := New(Options{
		Version:   "test",
		Sessions:  svc,
		Gateway:   gateway.NewLocal(users),
		Evaluator: identity.NewEvaluator(),
		Users:     users,
	})
	// The suite hammers the server from one IP; keep the per-IP limiter
	// out of the way.
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}, store
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) signIn(email, password string) signInResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/sessions", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("sign-in status = %d", resp.StatusCode)
	}
	return decodeBody[signInResponse](c.t, resp)
}

func TestHealthz(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("body = %v", body)
	}
}

func TestSignInIssuesTokenAndCookie(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/sessions", map[string]string{
		"email":    "ada@example.com",
		"password": "correct horse",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("session cookie not set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie is not http-only")
	}

	body := decodeBody[signInResponse](t, resp)
	if body.Token == "" {
		t.Fatal("token missing from sign-in response")
	}
	if body.Token != cookie.Value {
		t.Fatal("cookie and body token differ")
	}
	if body.Session == nil || !body.Session.Current {
		t.Fatalf("session view = %+v", body.Session)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	c, _ := newTestAPI(t)
	for name, body := range map[string]map[string]string{
		"wrong password": {"email": "ada@example.com", "password": "wrong"},
		"unknown email":  {"email": "ghost@example.com", "password": "correct horse"},
	} {
		resp := c.do(http.MethodPost, "/v1/sessions", body, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", name, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestSignInValidation(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/sessions", map[string]string{"email": "ada@example.com"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/sessions", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListSessionsRequiresAuth(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/sessions", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/sessions", nil, "definitely-not-a-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListSessions(t *testing.T) {
	c, _ := newTestAPI(t)
	first := c.signIn("ada@example.com", "correct horse")
	second := c.signIn("ada@example.com", "correct horse")

	resp := c.do(http.MethodGet, "/v1/sessions", nil, second.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[struct {
		Sessions []*sessionView `json:"sessions"`
	}](t, resp)

	if len(body.Sessions) != 2 {
		t.Fatalf("sessions = %d", len(body.Sessions))
	}
	var sawCurrent bool
	for _, v := range body.Sessions {
		if v.ID == second.Session.ID {
			if !v.Current {
				t.Error("second session not marked current")
			}
			sawCurrent = true
		}
		if v.ID == first.Session.ID && v.Current {
			t.Error("first session wrongly marked current")
		}
	}
	if !sawCurrent {
		t.Fatal("current session missing from list")
	}
}

func TestSignOut(t *testing.T) {
	c, _ := newTestAPI(t)
	signed := c.signIn("ada@example.com", "correct horse")

	resp := c.do(http.MethodDelete, "/v1/sessions/current", nil, signed.Token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The token is dead afterwards.
	resp = c.do(http.MethodGet, "/v1/sessions", nil, signed.Token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-sign-out status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRevokeOne(t *testing.T) {
	c, _ := newTestAPI(t)
	victim := c.signIn("ada@example.com", "correct horse")
	keeper := c.signIn("ada@example.com", "correct horse")

	resp := c.do(http.MethodDelete, "/v1/sessions/"+victim.Session.ID, nil, keeper.Token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/sessions", nil, victim.Token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Revoking again is idempotent.
	resp = c.do(http.MethodDelete, "/v1/sessions/"+victim.Session.ID, nil, keeper.Token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("second revoke status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown session id is a 404.
	resp = c.do(http.MethodDelete, "/v1/sessions/no-such-session", nil, keeper.Token)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRevokeOthers(t *testing.T) {
	c, _ := newTestAPI(t)
	a := c.signIn("ada@example.com", "correct horse")
	b := c.signIn("ada@example.com", "correct horse")
	keeper := c.signIn("ada@example.com", "correct horse")

	resp := c.do(http.MethodDelete, "/v1/sessions/others", nil, keeper.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]int64](t, resp)
	if body["revoked"] != 2 {
		t.Fatalf("revoked = %d", body["revoked"])
	}

	for name, tok := range map[string]string{"a": a.Token, "b": b.Token} {
		resp := c.do(http.MethodGet, "/v1/sessions", nil, tok)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s still authenticated: %d", name, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = c.do(http.MethodGet, "/v1/sessions", nil, keeper.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keeper status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	c, _ := newTestAPI(t)
	signed := c.signIn("ada@example.com", "correct horse")

	resp := c.do(http.MethodPut, "/v1/sessions/current", nil, signed.Token)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodDelete {
		t.Fatalf("Allow = %q", allow)
	}
	resp.Body.Close()
}

func TestCookieAuthentication(t *testing.T) {
	c, _ := newTestAPI(t)
	signed := c.signIn("ada@example.com", "correct horse")

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/sessions", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: signed.Token})
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", nil, "")
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("X-Request-Id"); got == "" {
		t.Error("X-Request-Id missing")
	}
}

func TestHandlerEnforcesRateLimit(t *testing.T) {
	api := New(Options{Version: "test"})
	api.rateBurst = 3
	api.ratePerSec = 1

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	var limited bool
	for i := 0; i < 10; i++ {
		resp, err := srv.Client().Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: unexpected status %d", i, resp.StatusCode)
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}

func TestHandlerCapsRequestBody(t *testing.T) {
	c, _ := newTestAPI(t)
	oversized := map[string]string{
		"email":    "ada@example.com",
		"password": strings.Repeat("x", 2<<20),
	}
	resp := c.do(http.MethodPost, "/v1/sessions", oversized, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
