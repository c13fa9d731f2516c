package identity

const (
	// DefaultElevatedAccessLevel is the lowest authority access-level value
	// treated as "any elevated access". The source material is inconsistent
	// about this cutoff, so it is configuration, not a constant baked into
	// call sites. Confirm the intended value with the system owner.
	DefaultElevatedAccessLevel = 1
	// DefaultFullAdminAccessLevel is the stricter "full admin" cutoff.
	DefaultFullAdminAccessLevel = 2
)

// Evaluator derives coarse privilege from a verified identity, independent of
// which gateway produced it.
type Evaluator struct {
	// ElevatedAccessLevel is the threshold used by IsAdmin for
	// remote-verified identities.
	ElevatedAccessLevel int
	// FullAdminAccessLevel is the threshold used by IsFullAdmin.
	FullAdminAccessLevel int
}

// NewEvaluator returns an Evaluator with the default thresholds.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		ElevatedAccessLevel:  DefaultElevatedAccessLevel,
		FullAdminAccessLevel: DefaultFullAdminAccessLevel,
	}
}

// IsAdmin reports whether the identity holds elevated access. Local records
// honor the PretendNotAdmin override; remote snapshots compare the nested
// access-level value against the configured elevated threshold.
func (e *Evaluator) IsAdmin(id Identity) bool {
	if id == nil {
		return false
	}
	if u, ok := id.(*User); ok {
		return u.Role == RoleAdmin && !u.PretendNotAdmin
	}
	return id.AccessLevelValue() >= e.ElevatedAccessLevel
}

// IsFullAdmin reports whether the identity passes the stricter cutoff. For
// local records this is the same role check as IsAdmin, since the local enum
// has no intermediate tier.
func (e *Evaluator) IsFullAdmin(id Identity) bool {
	if id == nil {
		return false
	}
	if u, ok := id.(*User); ok {
		return u.Role == RoleAdmin && !u.PretendNotAdmin
	}
	return id.AccessLevelValue() >= e.FullAdminAccessLevel
}
