package session

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the session service.
type Store interface {
	Insert(ctx context.Context, s *Session) error

	// FindByDigest returns the active session whose token digest matches.
	// The digest column is unique and indexed: this is a single indexed
	// read, never a scan that decrypts rows.
	FindByDigest(ctx context.Context, digest string, now time.Time) (*Session, error)

	FindByID(ctx context.Context, id string) (*Session, error)

	// ListByIdentity returns all of an identity's sessions newest-first,
	// including terminal ones (audit history).
	ListByIdentity(ctx context.Context, identityID string) ([]*Session, error)

	// Touch updates last_seen_at.
	Touch(ctx context.Context, id string, ts time.Time) error

	// Terminate sets signed_out_at and expires_at to ts.
	Terminate(ctx context.Context, id string, ts time.Time) error

	// TerminateOwned terminates the session only if it belongs to
	// identityID and is not already terminal. Returns rows affected.
	TerminateOwned(ctx context.Context, id, identityID string, ts time.Time) (int64, error)

	// TerminateOthers terminates every active session of identityID except
	// keepID in one statement. Returns rows affected.
	TerminateOthers(ctx context.Context, identityID, keepID string, ts time.Time) (int64, error)

	// SetLocation records best-effort geolocation enrichment.
	SetLocation(ctx context.Context, id string, lat, lon float64) error
}
