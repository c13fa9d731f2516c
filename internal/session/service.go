package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idgate.org/internal/crypt"
	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/token"
)

const (
	// DefaultDuration is the absolute session lifetime unless a
	// per-identity override applies.
	DefaultDuration = 30 * 24 * time.Hour
	// DefaultIdleLimit signs a session out after this much inactivity.
	DefaultIdleLimit = 30 * time.Minute
	// DefaultTouchCooldown bounds last-seen write amplification. Idle
	// timeout correctness is unaffected: last_seen_at lags by at most
	// this window.
	DefaultTouchCooldown = 5 * time.Minute

	geoLookupTimeout = 5 * time.Second
)

// GeoResolver looks up coarse geolocation for an IP. Lookups are best-effort
// and may be dropped or delayed.
type GeoResolver interface {
	Lookup(ctx context.Context, ip string) (lat, lon float64, err error)
}

// Service implements the session lifecycle over a Store.
type Service struct {
	store      Store
	tokenField *crypt.EncryptedField
	payloadEnc *crypt.Encryptor
	signer     *token.Signer
	geo        GeoResolver

	now           func() time.Time
	duration      time.Duration
	idleLimit     time.Duration
	touchCooldown time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithSigner switches token issuance to the signed compact strategy.
func WithSigner(signer *token.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithGeoResolver enables best-effort geolocation enrichment.
func WithGeoResolver(geo GeoResolver) Option {
	return func(s *Service) { s.geo = geo }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDuration overrides the default absolute session lifetime.
func WithDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.duration = d
		}
	}
}

// WithIdleLimit overrides the default idle timeout.
func WithIdleLimit(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.idleLimit = d
		}
	}
}

// WithTouchCooldown overrides the last-seen update cooldown.
func WithTouchCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.touchCooldown = d
		}
	}
}

// NewService constructs the session lifecycle service.
func NewService(store Store, tokenField *crypt.EncryptedField, payloadEnc *crypt.Encryptor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if tokenField == nil {
		return nil, errors.New("session: token field is required")
	}
	if payloadEnc == nil {
		return nil, errors.New("session: payload encryptor is required")
	}
	s := &Service{
		store:         store,
		tokenField:    tokenField,
		payloadEnc:    payloadEnc,
		now:           time.Now,
		duration:      DefaultDuration,
		idleLimit:     DefaultIdleLimit,
		touchCooldown: DefaultTouchCooldown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create mints a token for the verified identity, persists the session with
// encrypted token and payload, and returns the session together with the raw
// token. The raw token is handed to the client exactly once and never stored
// or logged in plaintext.
func (s *Service) Create(ctx context.Context, ident identity.Identity, client Client, duration time.Duration) (*Session, string, error) {
	if ident == nil || ident.ExternalID() == "" {
		return nil, "", errors.New("session: identity is required")
	}
	if duration <= 0 {
		duration = s.duration
		if u, ok := ident.(*identity.User); ok {
			if d := u.SessionDuration(); d > 0 {
				duration = d
			}
		}
	}

	now := s.now().UTC()
	id := uuid.NewString()

	raw, err := s.mintToken(ident.ExternalID(), id)
	if err != nil {
		return nil, "", err
	}
	ciphertext, digest, err := s.tokenField.Store(raw)
	if err != nil {
		return nil, "", err
	}

	sess := &Session{
		ID:              id,
		IdentityID:      ident.ExternalID(),
		TokenCiphertext: ciphertext,
		TokenDigest:     digest,
		Client:          client,
		ExpiresAt:       now.Add(duration),
		LastSeenAt:      &now,
		CreatedAt:       now,
	}
	if snap, ok := ident.(*identity.RemoteSnapshot); ok {
		payload, err := marshalSnapshot(snap)
		if err != nil {
			return nil, "", err
		}
		sess.PayloadCiphertext, err = s.payloadEnc.Encrypt(payload)
		if err != nil {
			return nil, "", err
		}
	}

	if err := s.store.Insert(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("session: insert: %w", err)
	}
	obs.SessionsCreated.Inc()

	if s.geo != nil && client.IP != "" {
		go s.enrichLocation(sess.ID, client.IP)
	}
	return sess, raw, nil
}

func (s *Service) mintToken(identityID, sessionID string) (string, error) {
	if s.signer != nil {
		return s.signer.Issue(identityID, sessionID)
	}
	return token.NewOpaque()
}

// enrichLocation runs outside the request that created the session; failure
// to geolocate never fails session creation.
func (s *Service) enrichLocation(sessionID, ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), geoLookupTimeout)
	defer cancel()

	lat, lon, err := s.geo.Lookup(ctx, ip)
	if err != nil {
		return
	}
	_ = s.store.SetLocation(ctx, sessionID, lat, lon)
}

// Resolve maps a presented bearer token to its active session. Absent,
// expired, and signed-out sessions all come back as ErrNotFound; ciphertext
// or signature problems surface as integrity errors, never as absence.
func (s *Service) Resolve(ctx context.Context, presented string) (*Session, error) {
	if presented == "" {
		obs.SessionResolutions.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if s.signer != nil {
		return s.resolveSigned(ctx, presented)
	}
	return s.resolveOpaque(ctx, presented)
}

func (s *Service) resolveOpaque(ctx context.Context, presented string) (*Session, error) {
	digest := s.tokenField.Digest(presented)
	sess, err := s.store.FindByDigest(ctx, digest, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.SessionResolutions.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		return nil, err
	}

	// The digest located the row; the ciphertext must still open and match
	// the presented token. Anything else is tampering, not absence.
	stored, err := s.tokenField.Open(sess.TokenCiphertext)
	if err != nil {
		s.reportIntegrity(sess.ID, err)
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		err := fmt.Errorf("session: stored token does not match presented token: %w", crypt.ErrIntegrity)
		s.reportIntegrity(sess.ID, err)
		return nil, err
	}

	obs.SessionResolutions.WithLabelValues("ok").Inc()
	return sess, nil
}

func (s *Service) resolveSigned(ctx context.Context, presented string) (*Session, error) {
	ref, err := s.signer.Verify(presented)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrInvalidSignature):
			s.reportIntegrity("", err)
		case errors.Is(err, token.ErrMalformed):
			obs.SessionResolutions.WithLabelValues("malformed").Inc()
		}
		return nil, err
	}

	// A valid signature proves payload authenticity only; the referenced
	// session must still exist, belong to the same identity, and be active.
	sess, err := s.store.FindByID(ctx, ref.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.SessionResolutions.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sess.IdentityID != ref.IdentityID || !sess.Active(s.now().UTC()) {
		obs.SessionResolutions.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	obs.SessionResolutions.WithLabelValues("ok").Inc()
	return sess, nil
}

func (s *Service) reportIntegrity(sessionID string, err error) {
	obs.IntegrityFailures.Inc()
	obs.SessionResolutions.WithLabelValues("integrity").Inc()
	fields := map[string]any{"error": err.Error()}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	obs.LogSecurityEvent("session.integrity_failure", fields)
}

// TouchLastSeen advances last_seen_at, skipping the write while the previous
// update is within the cooldown window.
func (s *Service) TouchLastSeen(ctx context.Context, sess *Session) error {
	now := s.now().UTC()
	if sess.LastSeenAt != nil {
		if !now.After(*sess.LastSeenAt) {
			return nil
		}
		if now.Sub(*sess.LastSeenAt) < s.touchCooldown {
			return nil
		}
	}
	if err := s.store.Touch(ctx, sess.ID, now); err != nil {
		return err
	}
	sess.LastSeenAt = &now
	return nil
}

// ApplyIdleTimeout enforces the inactivity limit on every authenticated
// request. On breach the session is signed out (both timestamps set to now)
// and ErrIdleExpired is returned; otherwise last_seen_at is touched.
func (s *Service) ApplyIdleTimeout(ctx context.Context, sess *Session, idleLimit time.Duration) error {
	if idleLimit <= 0 {
		idleLimit = s.idleLimit
	}
	now := s.now().UTC()
	if sess.LastSeenAt != nil && sess.LastSeenAt.Before(now.Add(-idleLimit)) {
		if err := s.store.Terminate(ctx, sess.ID, now); err != nil {
			return err
		}
		sess.SignedOutAt = &now
		sess.ExpiresAt = now
		return ErrIdleExpired
	}
	return s.TouchLastSeen(ctx, sess)
}

// ListByIdentity returns the identity's sessions newest-first.
func (s *Service) ListByIdentity(ctx context.Context, identityID string) ([]*Session, error) {
	return s.store.ListByIdentity(ctx, identityID)
}

// Revoke signs out one session, scoped to the requesting identity. Revoking
// an already-terminal session is a no-op; a session belonging to another
// identity is indistinguishable from a missing one.
func (s *Service) Revoke(ctx context.Context, sessionID, identityID string) error {
	n, err := s.store.TerminateOwned(ctx, sessionID, identityID, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	existing, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing.IdentityID != identityID {
		return ErrNotFound
	}
	// Already terminal: idempotent.
	return nil
}

// RevokeOthers signs out every other active session of the identity in one
// atomic statement, returning how many were terminated.
func (s *Service) RevokeOthers(ctx context.Context, identityID, keepID string) (int64, error) {
	return s.store.TerminateOthers(ctx, identityID, keepID, s.now().UTC())
}

// SignOut terminates the given session.
func (s *Service) SignOut(ctx context.Context, sess *Session) error {
	now := s.now().UTC()
	if err := s.store.Terminate(ctx, sess.ID, now); err != nil {
		return err
	}
	sess.SignedOutAt = &now
	sess.ExpiresAt = now
	return nil
}

// Snapshot decrypts the identity payload cached on a remote-variant session.
func (s *Service) Snapshot(sess *Session) (*identity.RemoteSnapshot, error) {
	if len(sess.PayloadCiphertext) == 0 {
		return nil, nil
	}
	payload, err := s.payloadEnc.Decrypt(sess.PayloadCiphertext)
	if err != nil {
		s.reportIntegrity(sess.ID, err)
		return nil, err
	}
	return unmarshalSnapshot(payload)
}
