package identity

import (
	"context"
	"time"
)

// MirrorStore manages the local mirror of remote-verified principals.
type MirrorStore interface {
	// Upsert creates the mirror on first sight of an external id and
	// updates its mutable fields on every subsequent sign-in.
	Upsert(ctx context.Context, snap *RemoteSnapshot) (*Mirror, error)
	FindByExternalID(ctx context.Context, externalID string) (*Mirror, error)
	// Delete removes the mirror and all of its sessions in one
	// transaction (cascade).
	Delete(ctx context.Context, externalID string) error
	// LastSeenAt returns the newest last_seen_at across the identity's
	// sessions, or nil when it has none.
	LastSeenAt(ctx context.Context, externalID string) (*time.Time, error)
	// LastLoginAt returns the creation time of the identity's newest
	// session, or nil when it has none.
	LastLoginAt(ctx context.Context, externalID string) (*time.Time, error)
}

// UserStore manages locally verified principals.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetRole(ctx context.Context, id string, role AccessRole) error
	SetPretendNotAdmin(ctx context.Context, id string, pretend bool) error
	SetSessionDuration(ctx context.Context, id string, seconds int) error
}
