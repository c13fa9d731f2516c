// Package identity models the verified principals this system issues
// sessions for. A principal is either a snapshot returned by the remote
// authority and cached alongside its session, or a locally stored record
// verified against a password hash. The two variants share one accessor
// interface so downstream code never cares which gateway produced them.
package identity

import "time"

// Origin tags how an identity was verified.
type Origin string

const (
	// OriginRemote marks identities verified by the external authority.
	OriginRemote Origin = "remote"
	// OriginLocal marks identities verified against a local password hash.
	OriginLocal Origin = "local"
)

// Identity is the shared accessor interface over both principal variants.
type Identity interface {
	ExternalID() string
	Email() string
	FullName() string
	AccessLevelValue() int
	Origin() Origin
}

// Mirror is the locally synchronized copy of a remote-verified principal.
// Created on first sight, updated on every subsequent sign-in, never deleted
// by session expiry.
type Mirror struct {
	ID               string
	ExternalID       string
	Email            string
	FirstName        string
	LastName         string
	AccessLevelName  string
	AccessLevelValue int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullName joins the mirror's name parts.
func (m *Mirror) FullName() string {
	return m.FirstName + " " + m.LastName
}
