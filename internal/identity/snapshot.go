package identity

// RemoteSnapshot is the identity payload returned by the external authority.
// It is denormalized: each session stores the payload current as of issuance,
// encrypted at rest.
type RemoteSnapshot struct {
	ID           string      `json:"external_id"`
	EmailAddress string      `json:"email"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	Permissions  Permissions `json:"permissions"`
}

// Permissions is the nested permission payload from the authority.
type Permissions struct {
	GlobalAccessLevel AccessLevel `json:"global_access_level"`
}

// AccessLevel names a permission tier and its numeric rank.
type AccessLevel struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

var _ Identity = (*RemoteSnapshot)(nil)

func (s *RemoteSnapshot) ExternalID() string { return s.ID }
func (s *RemoteSnapshot) Email() string      { return s.EmailAddress }
func (s *RemoteSnapshot) FullName() string   { return s.FirstName + " " + s.LastName }
func (s *RemoteSnapshot) AccessLevelValue() int {
	return s.Permissions.GlobalAccessLevel.Value
}
func (s *RemoteSnapshot) Origin() Origin { return OriginRemote }

// Valid reports whether the payload carries the fields this system requires.
func (s *RemoteSnapshot) Valid() bool {
	return s != nil && s.ID != "" && s.EmailAddress != ""
}
