package identity

import "time"

// AccessRole is the stored access-level enum for local users.
type AccessRole int

const (
	RoleUser  AccessRole = 0
	RoleAdmin AccessRole = 1
)

// User is a locally verified principal backed by a relational row.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	EmailAddress string
	PasswordHash string
	Role         AccessRole

	// PretendNotAdmin forces admin checks to answer false even for an
	// admin-role user. It is a test/debug escape hatch, not a security
	// boundary: the role itself is unchanged and the flag can be cleared
	// by anyone with write access to the record.
	PretendNotAdmin bool

	// SessionDurationSeconds overrides the deployment default session
	// duration when positive.
	SessionDurationSeconds int

	CreatedAt time.Time
	UpdatedAt time.Time
}

var _ Identity = (*User)(nil)

func (u *User) ExternalID() string    { return u.ID }
func (u *User) Email() string         { return u.EmailAddress }
func (u *User) FullName() string      { return u.FirstName + " " + u.LastName }
func (u *User) AccessLevelValue() int { return int(u.Role) }
func (u *User) Origin() Origin        { return OriginLocal }

// SessionDuration returns the per-user override, or zero when the deployment
// default applies.
func (u *User) SessionDuration() time.Duration {
	if u.SessionDurationSeconds <= 0 {
		return 0
	}
	return time.Duration(u.SessionDurationSeconds) * time.Second
}
