// Package identity resolves who the local editor is (scheduler name, role,
// division assignment) through a prioritized provider chain, and computes
// the ownership partition — the set of bunks the editor may modify.
package identity

// Role is the authorization level of the local editor.
type Role string

const (
	// RoleViewer may read shared state but never write it.
	RoleViewer Role = "viewer"
	// RoleScheduler may write schedule slices for its assigned divisions.
	RoleScheduler Role = "scheduler"
	// RoleAdmin may additionally write the shared settings document and
	// erase whole schedule days.
	RoleAdmin Role = "admin"
)

// ParseRole maps a string to a Role, returning false for unknown values.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleViewer, RoleScheduler, RoleAdmin:
		return Role(s), true
	default:
		return "", false
	}
}

// Identity describes the local editor for one session.
type Identity struct {
	Scheduler string   // identity key used in daily_schedules rows
	Role      Role
	Divisions []string // assigned divisions (IDs or names)
}

// CanWriteSettings reports whether this identity may write the shared
// settings document. The store's row-level access control enforces the
// same rule server-side; checking here lets the sync path short-circuit
// before even the read of the read-merge-write cycle.
func (id *Identity) CanWriteSettings() bool {
	return id.Role == RoleAdmin
}

// CanWriteSchedules reports whether this identity may save schedule
// slices at all.
func (id *Identity) CanWriteSchedules() bool {
	return id.Role == RoleScheduler || id.Role == RoleAdmin
}

// CanEraseDay reports whether this identity may erase every scheduler's
// data for a date.
func (id *Identity) CanEraseDay() bool {
	return id.Role == RoleAdmin
}
