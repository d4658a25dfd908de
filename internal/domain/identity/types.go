// Package identity contains the Directory-owned user model consumed by the
// request pipeline. The Directory itself (credential storage, hashing,
// mutation procedures) is an external collaborator reached through the ports
// in this package.
package identity

// Role is the coarse authorization role assigned to a user.
type Role string

// Known roles, lowest to highest rank.
const (
	RoleEmployee   Role = "EMPLOYEE"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Rank returns the numeric rank for role comparison. Unknown roles rank 0,
// below every known role, so an unrecognized value can never pass an ACL
// check.
func (r Role) Rank() int {
	switch r {
	case RoleEmployee:
		return 1
	case RoleManager:
		return 2
	case RoleAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// TopRank is the rank required for administrative session revocation.
func TopRank() int { return RoleSuperAdmin.Rank() }

// AccountState is the credential lifecycle state of a user record.
type AccountState string

const (
	AccountActive             AccountState = "ACTIVE"
	AccountFirstLoginRequired AccountState = "FIRST_LOGIN_REQUIRED"
	AccountResetRequired      AccountState = "RESET_REQUIRED"
	AccountLocked             AccountState = "LOCKED"
	AccountDisabled           AccountState = "DISABLED"
)

// User is a Directory user record as seen by the pipeline.
type User struct {
	ID         string
	Identifier string
	Role       Role
	State      AccountState
}

// RequestContext is the per-request identity resolved from a live session.
// It is derived, never persisted, and absence means anonymous.
type RequestContext struct {
	UserID     string
	Identifier string
	Role       Role
	RoleRank   int
}
